package docstore

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by all backends. Callers classify with errors.Is.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrPermissionDenied = errors.New("permission denied")
)

// RemoteError wraps a network or backend failure surfaced from a write or
// subscription. It is never fatal; callers recover by retry or
// re-authentication.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %v", e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// IsRemote reports whether err is a transient remote failure worth retrying.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
