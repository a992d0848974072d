package provision

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a provisioning or login failure.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindDuplicateAccount   Kind = "duplicate_account"
	KindPartialProvision   Kind = "partial_provision"
	KindIdentityUnresolved Kind = "identity_unresolved"
	KindTenantLink         Kind = "tenant_link"
	KindTransport          Kind = "transport"
	// KindAuthentication is only produced by Login.
	KindAuthentication Kind = "authentication"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrDuplicateAccount   = &Error{Kind: KindDuplicateAccount}
	ErrPartialProvision   = &Error{Kind: KindPartialProvision}
	ErrIdentityUnresolved = &Error{Kind: KindIdentityUnresolved}
	ErrTenantLink         = &Error{Kind: KindTenantLink}
	ErrTransport          = &Error{Kind: KindTransport}
	ErrAuthentication     = &Error{Kind: KindAuthentication}
)

// Error is the only error type returned by the provisioning and login flows.
type Error struct {
	Kind    Kind
	Step    Step
	Field   string
	Message string
	// UserID is set once the account identity is known.
	UserID int64
	// AccountCreated is true when the backend confirmed the account before the failure.
	AccountCreated bool
	Err            error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Step != "" {
		msg = fmt.Sprintf("provision: %s: %s", e.Step, msg)
	} else {
		msg = "provision: " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Step != "" || t.Err != nil || t.Message != "" {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind carried by err, or "" when err is not a provisioning error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// Advice is the single user-facing instruction for a failure kind.
func Advice(k Kind) string {
	switch k {
	case KindValidation:
		return "Please correct the highlighted field and submit again."
	case KindDuplicateAccount:
		return "An account with this email already exists. Sign in instead, or register with a different email."
	case KindPartialProvision:
		return "Your account was created but setup did not finish. Sign in with your new credentials; do not register again."
	case KindIdentityUnresolved:
		return "Your account was created but could not be identified. Contact the administrator to complete setup."
	case KindTenantLink:
		return "The selected room could not be assigned. Choose another room; if your account was created, sign in and pick a room from there."
	case KindTransport:
		return "The property service could not be reached. Please try again."
	case KindAuthentication:
		return "Sign in again with a valid email and password."
	default:
		return "Something went wrong. Please try again."
	}
}

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
