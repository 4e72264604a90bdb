package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const versionDateLayout = "20060102"

// Version is a backup version identifier: YYYYMMDD.N
type Version struct {
	Date string // YYYYMMDD
	Seq  int
}

// Sentinel is the bootstrap version recorded before the first promotion
var Sentinel = Version{Date: "20150618", Seq: 0}

// ParseVersion parses "YYYYMMDD.N"
func ParseVersion(s string) (Version, error) {
	date, seq, ok := strings.Cut(strings.TrimSpace(s), ".")
	if !ok {
		return Version{}, fmt.Errorf("invalid version %q: missing sequence", s)
	}
	if _, err := time.Parse(versionDateLayout, date); err != nil {
		return Version{}, fmt.Errorf("invalid version %q: bad date", s)
	}
	n, err := strconv.Atoi(seq)
	if err != nil || n < 0 {
		return Version{}, fmt.Errorf("invalid version %q: bad sequence", s)
	}
	return Version{Date: date, Seq: n}, nil
}

// MustParseVersion is ParseVersion for literals
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	return fmt.Sprintf("%s.%d", v.Date, v.Seq)
}

// IsZero reports whether v is unset
func (v Version) IsZero() bool {
	return v.Date == ""
}

// Ordinal is the integer the history store orders versions by
func (v Version) Ordinal() int64 {
	d, _ := strconv.ParseInt(v.Date, 10, 64)
	return d*1000000 + int64(v.Seq)
}

// Compare returns -1, 0 or +1; dates compare first, then sequences numerically
func (v Version) Compare(o Version) int {
	a, b := v.Ordinal(), o.Ordinal()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Next returns the version following v on day today
func (v Version) Next(today time.Time) Version {
	date := today.Format(versionDateLayout)
	if v.Date == date {
		return Version{Date: date, Seq: v.Seq + 1}
	}
	return Version{Date: date, Seq: 1}
}

// MarshalText implements encoding.TextMarshaler
func (v Version) MarshalText() ([]byte, error) {
	if v.IsZero() {
		return []byte(""), nil
	}
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (v *Version) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*v = Version{}
		return nil
	}
	parsed, err := ParseVersion(string(b))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
