package dirauth

import (
	"errors"

	"github.com/FebinAugustine/dirauth/internal/validation"
)

// Kind classifies every failure an Engine operation can return.
type Kind uint8

const (
	KindInternal Kind = iota
	KindValidation
	KindRateLimited
	KindCredentialInvalid
	KindTokenExpired
	KindSessionInvalid
	KindUnauthenticated
	KindCSRFInvalid
	KindUnavailable
)

var kindCodes = [...]string{
	KindInternal:          "internal_error",
	KindValidation:        "validation_error",
	KindRateLimited:       "rate_limited",
	KindCredentialInvalid: "invalid_credentials",
	KindTokenExpired:      "token_expired",
	KindSessionInvalid:    "session_expired",
	KindUnauthenticated:   "unauthenticated",
	KindCSRFInvalid:       "csrf_invalid",
	KindUnavailable:       "unavailable",
}

var kindMessages = [...]string{
	KindInternal:          "Something went wrong. Please try again later.",
	KindValidation:        "Validation failed.",
	KindRateLimited:       "Too many requests. Please try again later.",
	KindCredentialInvalid: "Invalid email or password.",
	KindTokenExpired:      "The link or code is invalid or has expired.",
	KindSessionInvalid:    "Session expired. Please log in again.",
	KindUnauthenticated:   "Authentication required.",
	KindCSRFInvalid:       "Invalid or missing CSRF token.",
	KindUnavailable:       "Service temporarily unavailable. Please retry.",
}

// String returns the stable wire code for k.
func (k Kind) String() string {
	if int(k) < len(kindCodes) {
		return kindCodes[k]
	}
	return kindCodes[KindInternal]
}

// FieldError is a rejected request field.
type FieldError = validation.FieldError

// Error is the only error type Engine operations return. Message is safe to
// show to callers; Err carries the internal cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so the Err* values below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrInternal          = &Error{Kind: KindInternal}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrRateLimited       = &Error{Kind: KindRateLimited}
	ErrCredentialInvalid = &Error{Kind: KindCredentialInvalid}
	ErrTokenExpired      = &Error{Kind: KindTokenExpired}
	ErrSessionInvalid    = &Error{Kind: KindSessionInvalid}
	ErrUnauthenticated   = &Error{Kind: KindUnauthenticated}
	ErrCSRFInvalid       = &Error{Kind: KindCSRFInvalid}
	ErrUnavailable       = &Error{Kind: KindUnavailable}
)

func newError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Message: kindMessages[kind], Err: cause}
}

func validationError(fields []FieldError) *Error {
	return &Error{Kind: KindValidation, Message: kindMessages[KindValidation], Fields: fields}
}

// KindOf returns the Kind carried by err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// PublicMessage returns the caller-safe message for err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return kindMessages[KindOf(err)]
}
