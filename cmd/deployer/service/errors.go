package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lyzr/flowdeploy/common/clients"
)

// Error taxonomy of the promotion and rollback engines
var (
	// ErrIdentityMismatch: the live row no longer has the id the snapshot was taken from
	ErrIdentityMismatch = errors.New("identity mismatch")
	// ErrMissingDependency: a folder, sub-flow or live row the operation needs is absent
	ErrMissingDependency = errors.New("missing dependency")
	// ErrUniqueViolation: a unique constraint failed even after relaxing endpoint_name
	ErrUniqueViolation = errors.New("unique constraint violation")
	// ErrRemoteService: the flow or prompt service answered with an error
	ErrRemoteService = clients.ErrRemote
	// ErrManualCorrection: the live store changed but history pruning failed
	ErrManualCorrection = errors.New("manual history correction needed")
	// ErrInvalidTarget: the requested version or environment cannot be used
	ErrInvalidTarget = errors.New("invalid target")
	// ErrNotFound: the requested entity does not exist
	ErrNotFound = errors.New("not found")
)

// OpError carries the context an operator needs to act on a failure
type OpError struct {
	Op      string
	Env     string
	Name    string
	Version string
	Err     error
}

// Error implements the error interface
func (e *OpError) Error() string {
	parts := []string{e.Op}
	if e.Env != "" {
		parts = append(parts, "env="+e.Env)
	}
	if e.Name != "" {
		parts = append(parts, "name="+e.Name)
	}
	if e.Version != "" {
		parts = append(parts, "version="+e.Version)
	}
	return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Err)
}

// Unwrap returns the underlying error
func (e *OpError) Unwrap() error {
	return e.Err
}

func opError(op, env, name, version string, err error) error {
	return &OpError{Op: op, Env: env, Name: name, Version: version, Err: err}
}
