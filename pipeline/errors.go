package pipeline

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidState is returned if pipeline method cannot be executed
	// at this moment.
	ErrInvalidState = errors.New("invalid state")
	// ErrNoPlugins is returned if pipeline is created without plugins.
	ErrNoPlugins = errors.New("no plugins provided")
)

// stageErrors wraps errors that might occur when multiple stages are
// failing.
type stageErrors []error

func (e stageErrors) Error() string {
	s := make([]string, 0, len(e))
	for _, se := range e {
		s = append(s, se.Error())
	}
	return strings.Join(s, ", ")
}

// Unwrap allows errors.Is and errors.As to match any of wrapped errors.
func (e stageErrors) Unwrap() []error {
	return e
}

// ret returns untyped nil if error list is empty.
func (e stageErrors) ret() error {
	if len(e) > 0 {
		return e
	}
	return nil
}
