package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates the canonical request is malformed.
	ErrValidation = errors.New("validation error")

	// ErrConfiguration indicates the adapter has no usable API key.
	ErrConfiguration = errors.New("configuration error")

	// ErrTransport indicates a network level failure.
	ErrTransport = errors.New("transport error")

	// ErrProtocol indicates the vendor reported a failure.
	ErrProtocol = errors.New("protocol error")

	// ErrDecode indicates the vendor body could not be decoded.
	ErrDecode = errors.New("decode error")

	// ErrUnknownProvider indicates a provider name outside the supported set.
	ErrUnknownProvider = errors.New("unknown provider")
)

// NotConfiguredMessage is reported when an adapter is called without a key.
const NotConfiguredMessage = "Provider API key not configured"

// Error is a classified adapter failure. Kind is one of the sentinel errors
// above; Message is what callers get to see.
type Error struct {
	Kind       error
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	return e.Message
}

// Unwrap exposes both the kind and the underlying cause to errors.Is.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// String renders the error with its classification for logs.
func (e *Error) String() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %q %v (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %q %v: %s", e.Provider, e.Kind, e.Message)
}

func newError(kind error, providerName, message string, cause error) *Error {
	return &Error{Kind: kind, Provider: providerName, Message: message, Cause: cause}
}

// KindOf returns the sentinel classifying err, or nil when err is not a
// provider failure.
func KindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrConfiguration, ErrTransport, ErrProtocol, ErrDecode, ErrUnknownProvider} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// KindLabel returns a short label for metrics and logs.
func KindLabel(err error) string {
	switch KindOf(err) {
	case ErrValidation:
		return "validation"
	case ErrConfiguration:
		return "configuration"
	case ErrTransport:
		return "transport"
	case ErrProtocol:
		return "protocol"
	case ErrDecode:
		return "decode"
	case ErrUnknownProvider:
		return "unknown_provider"
	default:
		return "other"
	}
}
