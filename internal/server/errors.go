package server

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrStop may be returned by a Handler to end the loop without error.
var ErrStop = errors.New("stop serving")

// BindError reports that the listening socket could not be created. It is
// fatal for the loop.
type BindError struct {
	Name string
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("%s server: bind %s: %v", e.Name, e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// AcceptError reports that accepting a connection failed. It is fatal for the
// loop.
type AcceptError struct {
	Name string
	Addr string
	Err  error
}

func (e *AcceptError) Error() string {
	return fmt.Sprintf("%s server: accept on %s: %v", e.Name, e.Addr, e.Err)
}

func (e *AcceptError) Unwrap() error { return e.Err }

// IsFatal reports whether err ended a loop for good, as opposed to a
// connection-level failure.
func IsFatal(err error) bool {
	var be *BindError
	var ae *AcceptError
	return errors.As(err, &be) || errors.As(err, &ae)
}
