package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrSendInProgress is returned when a send is requested while another
	// outbound transfer is still announcing or streaming.
	ErrSendInProgress = errors.New("a file transfer is already in progress")
	// ErrNoOffer is returned by Accept and Reject when there is nothing to decide on.
	ErrNoOffer = errors.New("no pending file offer")
	// ErrNotRegularFile is returned when the send source is a directory or device.
	ErrNotRegularFile = errors.New("not a regular file")
)

// Error is a file transfer failure. It is reported once; the session is
// abandoned and never retried.
type Error struct {
	Op   string // "open", "read", "announce", "stream", "finish", "save"
	Name string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("file transfer %s %q failed: %v", e.Op, e.Name, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
