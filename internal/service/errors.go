package service

import "errors"

// Kind is the stable tag of a service error.  Callers branch on the kind,
// never on the message.
type Kind string

const (
	KindConflict       Kind = "conflict"
	KindAuthentication Kind = "authentication"
	KindAccessDenied   Kind = "access_denied"
	KindInvalidToken   Kind = "invalid_token"
	KindStore          Kind = "store"
)

// Error is returned by every Engine operation.  Message is safe to show to
// clients; Op and Err carry internal detail for logs only.
type Error struct {
	Kind    Kind
	Message string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Op != "" {
		return e.Message + ": " + e.Op + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrAccessDenied)
// holds for every access-denied cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	// ErrConflict: the email is already registered.
	ErrConflict = &Error{Kind: KindConflict, Message: "email already in use"}
	// ErrInvalidCredentials is returned for both an unknown email and a
	// wrong password; the two cases are indistinguishable to callers.
	ErrInvalidCredentials = &Error{Kind: KindAuthentication, Message: "invalid credentials"}
	// ErrAccessDenied: refresh rejected (no session, reused, forged or
	// expired token).
	ErrAccessDenied = &Error{Kind: KindAccessDenied, Message: "access denied"}
	// ErrInvalidToken: an access token failed verification.
	ErrInvalidToken = &Error{Kind: KindInvalidToken, Message: "invalid token"}
	// ErrStore: the credential store failed; the request is aborted.
	ErrStore = &Error{Kind: KindStore, Message: "credential store failure"}
)

func storeError(op string, err error) error {
	return &Error{Kind: KindStore, Message: ErrStore.Message, Op: op, Err: err}
}

func invalidToken(err error) error {
	return &Error{Kind: KindInvalidToken, Message: ErrInvalidToken.Message, Op: "verify", Err: err}
}

// KindOf returns the kind of err, or "" when err is not a service error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
