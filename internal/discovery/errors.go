package discovery

import "errors"

var (
	// ErrInvalidRequest means the service rejected the discovery
	// parameters. Retrying cannot help.
	ErrInvalidRequest = errors.New("discovery: invalid request")

	// ErrTransient covers network and service failures that may succeed
	// on a later attempt.
	ErrTransient = errors.New("discovery: transient failure")
)

// Error carries the failure class together with the detail that caused it.
type Error struct {
	Kind       error
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func invalid(status int, err error) error {
	return &Error{Kind: ErrInvalidRequest, StatusCode: status, Err: err}
}

func transient(status int, err error) error {
	return &Error{Kind: ErrTransient, StatusCode: status, Err: err}
}
