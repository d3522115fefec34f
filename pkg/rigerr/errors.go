package rigerr

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the lease arbitrator, staleness cache and signal queue
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrProtocol        = errors.New("protocol error")
	ErrBusy            = errors.New("resource busy")
	ErrOverflow        = errors.New("queue overflow")
	ErrMiss            = errors.New("cache miss")
	ErrNotConnected    = errors.New("radio not connected")
)

// OverflowError reports how much of a push was not accepted by the signal queue
type OverflowError struct {
	Accepted int // bytes inserted before the queue filled
	Rejected int // filtered bytes that were not inserted
	Free     int // free slots at the time of the failure
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("queue overflow: accepted=%d rejected=%d free=%d",
		e.Accepted, e.Rejected, e.Free)
}

// Unwrap lets errors.Is(err, ErrOverflow) match
func (e *OverflowError) Unwrap() error {
	return ErrOverflow
}

// Wire codes returned to socket and HTTP clients
const (
	CodeOK              = "OK"
	CodeInvalidArgument = "EINVAL"
	CodeProtocol        = "EPROTO"
	CodeBusy            = "EBUSY"
	CodeOverflow        = "EDOM"
	CodeMiss            = "MISS"
	CodeIO              = "EIO"
)

// Code maps an error to its stable wire code
func Code(err error) string {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrProtocol):
		return CodeProtocol
	case errors.Is(err, ErrBusy):
		return CodeBusy
	case errors.Is(err, ErrOverflow):
		return CodeOverflow
	case errors.Is(err, ErrMiss):
		return CodeMiss
	default:
		return CodeIO
	}
}

// IsRetryable reports whether the caller should poll again later
// rather than treat err as a hard failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, ErrOverflow)
}
