package db

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRowAccessors(t *testing.T) {
	ts := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	row := Row{
		"name":      "orders",
		"bytes":     []byte("raw"),
		"null":      nil,
		"count":     int64(3),
		"flag_int":  int64(1),
		"flag_bool": true,
		"flag_text": "true",
		"ts":        ts,
		"ts_text":   "2025-06-01 10:30:00",
		"data":      map[string]any{"a": 1.0},
		"data_text": `{"a":1}`,
	}

	assert.Equal(t, "orders", row.String("name"))
	assert.Equal(t, "raw", row.String("bytes"))
	assert.Equal(t, "", row.String("null"))
	assert.Nil(t, row.NullString("null"))
	assert.Equal(t, "orders", *row.NullString("name"))

	assert.Equal(t, int64(3), row.Int64("count"))
	assert.True(t, row.Bool("flag_int"))
	assert.True(t, row.Bool("flag_bool"))
	assert.True(t, row.Bool("flag_text"))
	assert.Nil(t, row.NullBool("null"))

	assert.Equal(t, ts, row.Time("ts"))
	assert.Equal(t, ts, row.Time("ts_text"))
	assert.Nil(t, row.NullTime("null"))

	assert.JSONEq(t, `{"a":1}`, string(row.JSON("data")))
	assert.JSONEq(t, `{"a":1}`, string(row.JSON("data_text")))
	assert.Nil(t, row.JSON("null"))
}
