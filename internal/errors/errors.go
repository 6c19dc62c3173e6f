// Package errors re-exports github.com/pkg/errors so that call sites across
// this module get a single, consistent error-wrapping style with stack
// traces attached at the point of creation.
package errors

import "github.com/pkg/errors"

var (
	New    = errors.New
	Errorf = errors.Errorf
	Wrap   = errors.Wrap
	Wrapf  = errors.Wrapf
	Cause  = errors.Cause
	Is     = errors.Is
	As     = errors.As
)

// Fatal is an error that indicates a repository invariant was violated and
// deserves a bug report rather than a routine failure message.
type Fatal struct {
	error
}

// Fatalf builds a Fatal error.
func Fatalf(format string, args ...interface{}) error {
	return Fatal{errors.Errorf(format, args...)}
}

// IsFatal reports whether err (or one of its wrapped causes) is a Fatal.
func IsFatal(err error) bool {
	var f Fatal
	return errors.As(err, &f)
}
