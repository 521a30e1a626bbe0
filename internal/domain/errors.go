package domain

import (
	"errors"
	"fmt"
)

// ErrServerNotFound is returned when removing a server that is not a member
// of the service.
var ErrServerNotFound = errors.New("server not found")

// InvariantError reports a broken servers/slots invariant inside a Service.
// It is raised with panic: reaching it means the data model itself is
// corrupt, not that the input was bad.
type InvariantError struct {
	Service string
	Detail  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("service %q: slot invariant violated: %s", e.Service, e.Detail)
}
