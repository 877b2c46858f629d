package response

import (
	"errors"
)

// Error is an error that knows the HTTP status and the machine-readable code
// it should be reported with.
type Error struct {
	Code int
	Slug string
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	var t *Error
	ok := errors.As(target, &t)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Err.Error() == t.Err.Error()
}

func NewError(code int, slug, err string) error {
	return &Error{Code: code, Slug: slug, Err: errors.New(err)}
}
