package realtime

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrSessionClosed is returned by session operations after Close.
var ErrSessionClosed = errors.New("realtime: session closed")

// ErrNothingToCommit is returned by [Session.CommitAndRespond] when no audio
// has been appended since the last commit. The server rejects empty commits
// with an error event, so the client refuses locally instead.
var ErrNothingToCommit = errors.New("realtime: no audio appended since last commit")

// AuthError indicates the server rejected the credentials. Fatal: surfaced
// to the user, never retried.
type AuthError struct {
	// Status is the HTTP status of the rejected handshake, when available.
	Status int
	Msg    string
}

func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("realtime: authentication rejected (status %d): %s", e.Status, e.Msg)
	}
	return "realtime: authentication rejected: " + e.Msg
}

// TransportError indicates a socket-level failure (dial, read, or write).
// Retried by the connection supervisor with backoff.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("realtime: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError indicates the handshake or an acknowledgement never arrived
// within its bounded interval.
type TimeoutError struct {
	Op   string
	Wait time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("realtime: %s timed out after %s", e.Op, e.Wait)
}

// ProtocolError is a server-reported error event. Logged and surfaced; some
// codes (rate limiting) trigger backoff before the next attempt.
type ProtocolError struct {
	Type    string
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("realtime: server error %s (%s): %s", e.Code, e.Type, e.Message)
	}
	return fmt.Sprintf("realtime: server error (%s): %s", e.Type, e.Message)
}

// RateLimited reports whether the server rejected the request for rate
// limiting. Callers should absorb these with a short backoff before the
// next request.
func (e *ProtocolError) RateLimited() bool {
	return strings.Contains(e.Code, "rate_limit") || strings.Contains(e.Type, "rate_limit")
}
