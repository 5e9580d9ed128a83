package forum

import "fmt"

// Kind classifies an expected operation failure. The HTTP shell maps kinds to
// status codes; the core never panics for any of these.
type Kind string

const (
	// KindNotFound reports an absent category, topic, post, or role entry.
	KindNotFound Kind = "not_found"
	// KindForbidden reports a role, ownership, or content-state violation.
	KindForbidden Kind = "forbidden"
	// KindConflict reports a duplicate grant, ban, or like toggle.
	KindConflict Kind = "conflict"
	// KindBadRequest reports missing or malformed input.
	KindBadRequest Kind = "bad_request"
)

// Error is the explicit failure result returned by every forum operation.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches any *Error carrying the same kind, so callers can test outcomes
// with errors.Is against the sentinel kinds below.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Message == "" && other.Kind == e.Kind
}

var (
	// ErrNotFound is the sentinel for KindNotFound comparisons.
	ErrNotFound = &Error{Kind: KindNotFound}
	// ErrForbidden is the sentinel for KindForbidden comparisons.
	ErrForbidden = &Error{Kind: KindForbidden}
	// ErrConflict is the sentinel for KindConflict comparisons.
	ErrConflict = &Error{Kind: KindConflict}
	// ErrBadRequest is the sentinel for KindBadRequest comparisons.
	ErrBadRequest = &Error{Kind: KindBadRequest}
)

func notFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func badRequest(format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}
