package ws

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrMalformedFrame     = errors.New("malformed frame")
	ErrUnknownKind        = errors.New("unknown message kind")
	ErrNoIdentity         = errors.New("match payload carries no identifier")
	ErrNotConnected       = errors.New("not connected to hub")
	ErrAllEndpointsFailed = errors.New("all hub endpoints failed")
	ErrDisposed           = errors.New("connection disposed")
	ErrConnectInProgress  = errors.New("connect already in progress")
	ErrRequestInFlight    = errors.New("a request from this submitter is already pending")
	ErrAckTimeout         = errors.New("timed out waiting for acknowledgment")
	ErrCorrelatorClosed   = errors.New("correlator closed")
)

// TimeoutError is returned when neither an inline reply nor a matching event
// arrived in time. The remote side may or may not have applied the request.
type TimeoutError struct {
	RequestID string
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %s: no acknowledgment after %s", e.RequestID, e.After)
}

func (e *TimeoutError) Unwrap() error { return ErrAckTimeout }

// RemoteError is a failure reported by the hub for a request.
type RemoteError struct {
	RequestID string
	Code      string
	Message   string
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("hub rejected request %s: %s (%s)", e.RequestID, e.Message, e.Code)
	}
	return fmt.Sprintf("hub rejected request %s: %s", e.RequestID, e.Message)
}
