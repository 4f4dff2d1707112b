package server

import (
	"errors"
	"fmt"
)

// ErrBind is matched by every *BindError.
var ErrBind = errors.New("server: bind failed")

// BindError reports a listener that could not be bound.
// It is fatal: the process cannot serve without its listeners.
type BindError struct {
	Transport string
	Addr      string
	Err       error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to start %s listener on %s: %v", e.Transport, e.Addr, e.Err)
}

func (e *BindError) Unwrap() []error {
	return []error{ErrBind, e.Err}
}
