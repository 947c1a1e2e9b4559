package u01

import (
	"errors"
	"fmt"
)

var (
	// ErrReleased is returned when a released resource is used or released again.
	ErrReleased = errors.New("u01: resource already released")
	// ErrInUse is returned when releasing a resource another live resource still references.
	ErrInUse = errors.New("u01: resource still referenced")
	// ErrUnavailable is returned by backends that are not built into this binary.
	ErrUnavailable = errors.New("u01: backend unavailable")
	// ErrBusy is returned when the backend cannot hold another resource of that kind.
	ErrBusy = errors.New("u01: backend busy")
	// ErrInvalidParam wraps every parameter rejected before reaching the backend.
	ErrInvalidParam = errors.New("u01: invalid parameter")
	// ErrUnknownHandle is returned by backends for handles they never issued or already freed.
	ErrUnknownHandle = errors.New("u01: unknown handle")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParam, fmt.Sprintf(format, args...))
}
