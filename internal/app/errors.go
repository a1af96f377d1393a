package app

import (
	"errors"
	"fmt"

	"github.com/Eldsal/eldsal-sub000/internal/domain"
	"github.com/Eldsal/eldsal-sub000/pkg/identityclient"
	"github.com/Eldsal/eldsal-sub000/pkg/stripeclient"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
)

// ValidationError reports malformed input. Handlers answer it with 400.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func newValidationError(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func errInvalidFlavour(raw string) error {
	return newValidationError("flavour", "unknown fee flavour %q", raw)
}

// UpstreamError reports a failed call to the identity provider or the
// payment processor.
type UpstreamError struct {
	Service string
	Op      string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Service, e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

const (
	upstreamIdentity  = "identity provider"
	upstreamProcessor = "payment processor"
)

func identityError(op string, err error) error {
	if errors.Is(err, identityclient.ErrUserNotFound) {
		return fmt.Errorf("%w: member", ErrNotFound)
	}
	return &UpstreamError{Service: upstreamIdentity, Op: op, Err: err}
}

func processorError(f domain.Flavour, op string, err error) error {
	if errors.Is(err, stripeclient.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	}
	return &UpstreamError{Service: upstreamProcessor, Op: fmt.Sprintf("%s (%s)", op, f), Err: err}
}
