package linepipe

import (
	"errors"
	"fmt"
)

// ErrInvalidCapacity is returned when queue capacity is not positive.
var ErrInvalidCapacity = errors.New("invalid queue capacity")

// StageError is returned if a stage failed to start, accept work or stop.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}
