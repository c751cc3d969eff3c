package fetcher

import (
	"fmt"
)

// ErrorKind classifies why a source could not produce a price.
type ErrorKind int

const (
	ErrKindNetwork ErrorKind = iota + 1
	ErrKindHTTP
	ErrKindDecode
	ErrKindPriceNotFound
	ErrKindNotReady
	ErrKindDisconnected
	ErrKindDiscoveryFailed
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindNetwork:
		return "network"
	case ErrKindHTTP:
		return "http"
	case ErrKindDecode:
		return "decode"
	case ErrKindPriceNotFound:
		return "price_not_found"
	case ErrKindNotReady:
		return "not_ready"
	case ErrKindDisconnected:
		return "disconnected"
	case ErrKindDiscoveryFailed:
		return "discovery_failed"
	default:
		return "unknown"
	}
}

// FetchError is returned by every Source on failure.
type FetchError struct {
	Kind     ErrorKind
	SourceID string
	// Status is set for ErrKindHTTP.
	Status int
	Err    error
}

// Sentinels for errors.Is; they match any FetchError of the same kind.
var (
	ErrNetwork         = &FetchError{Kind: ErrKindNetwork}
	ErrHTTP            = &FetchError{Kind: ErrKindHTTP}
	ErrDecode          = &FetchError{Kind: ErrKindDecode}
	ErrPriceNotFound   = &FetchError{Kind: ErrKindPriceNotFound}
	ErrNotReady        = &FetchError{Kind: ErrKindNotReady}
	ErrDisconnected    = &FetchError{Kind: ErrKindDisconnected}
	ErrDiscoveryFailed = &FetchError{Kind: ErrKindDiscoveryFailed}
)

func (e *FetchError) Error() string {
	msg := e.Kind.String()
	if e.Kind == ErrKindHTTP && e.Status != 0 {
		msg = fmt.Sprintf("http %d", e.Status)
	}
	if e.SourceID != "" {
		msg = e.SourceID + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is reports kind equality so callers can match against the sentinels.
func (e *FetchError) Is(target error) bool {
	t, ok := target.(*FetchError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newFetchError(kind ErrorKind, sourceID string, err error) *FetchError {
	return &FetchError{Kind: kind, SourceID: sourceID, Err: err}
}
