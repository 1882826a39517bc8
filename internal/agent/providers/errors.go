package providers

import (
	"errors"
	"fmt"
)

// Kind classifies provider failures so callers can react uniformly
// across wire dialects.
type Kind string

const (
	KindConfig        Kind = "config"
	KindIo            Kind = "io"
	KindNetwork       Kind = "network"
	KindAuth          Kind = "auth"
	KindAPI           Kind = "api"
	KindRateLimit     Kind = "rate_limit"
	KindSerialization Kind = "serialization"
)

// ProviderError is the normalized error surfaced by both providers.
type ProviderError struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s error (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s error: %s", e.Provider, e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// IsProviderError reports whether err is already normalized.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// classifyStatus maps an HTTP status to an error kind. A zero status
// means the request never produced a response.
func classifyStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 429:
		return KindRateLimit
	case status >= 500:
		return KindAPI
	case status >= 400:
		return KindAPI
	case status >= 200 && status < 300:
		return KindSerialization
	default:
		return KindNetwork
	}
}

func newError(provider string, status int, message string, cause error) *ProviderError {
	return &ProviderError{
		Kind:       classifyStatus(status),
		Provider:   provider,
		StatusCode: status,
		Message:    message,
		Cause:      cause,
	}
}
