package bus

import (
	"errors"
	"fmt"

	"comfyclient/pkg/types"
)

// SendErrorKind distinguishes why a message never got an answer.
type SendErrorKind string

const (
	SendTimeout SendErrorKind = "timeout"
	SendOffline SendErrorKind = "offline"
)

// SendError reports that the target could not be reached or did not answer
// in time.
type SendError struct {
	Kind   SendErrorKind
	Target types.Address
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s: %s: %v", e.Target, e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// IsSendError reports whether err is (or wraps) a SendError.
func IsSendError(err error) bool {
	var se *SendError
	return errors.As(err, &se)
}

// IsTimeout reports whether err is a SendError of kind SendTimeout.
func IsTimeout(err error) bool {
	var se *SendError
	return errors.As(err, &se) && se.Kind == SendTimeout
}

// RemoteError is a non-2xx reply from the target node.
type RemoteError struct {
	Target  types.Address
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s returned %d: %s", e.Target, e.Status, e.Message)
}
