package client

import "errors"

// Sentinel errors for the client's failure semantics.
var (
	ErrTimeout      = errors.New("client: query timed out")
	ErrLookupFailed = errors.New("client: worker exited before a response arrived")
	ErrNoUpstreams  = errors.New("client: no upstream servers configured")
)

// Transient reports whether err belongs to the retry-eligible set:
// {Timeout, ConnReset, ConnAborted, ConnRefused, UnexpectedEof,
// LookupFailed}. pkg/retry consults this to decide whether to re-attempt.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrLookupFailed) {
		return true
	}
	return isTransientNetError(err)
}
