package ai

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidModel: the provider does not know the requested model id.
	ErrInvalidModel = errors.New("invalid model")
	// ErrProtocol: the provider answered with a shape we cannot interpret.
	ErrProtocol = errors.New("provider protocol error")
	// ErrUnavailable: transport failure or a non-2xx answer without a usable body.
	ErrUnavailable = errors.New("provider unavailable")
)

// ProviderError carries the classification of a failed provider call together
// with the raw payload for diagnosis.
type ProviderError struct {
	Err        error
	Op         string
	HTTPStatus int
	Code       string
	Message    string
	Raw        []byte
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Code != "" {
		msg = e.Code
	}
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s: %v (status %d): %s", e.Op, e.Err, e.HTTPStatus, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Err, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient.
func Retryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// RawPayload returns the provider body attached to err, if any.
func RawPayload(err error) []byte {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Raw
	}
	return nil
}

func unavailable(op string, err error) *ProviderError {
	return &ProviderError{Err: ErrUnavailable, Op: op, Message: err.Error()}
}
