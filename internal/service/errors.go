package service

import "errors"

var (
	ErrUnknownTask      = errors.New("unknown task name")
	ErrDuplicateHandler = errors.New("handler already registered")
	ErrUnsupportedCron  = errors.New("cron pattern not implemented: only \"minute hour * * *\" is supported")
	ErrInvalidJob       = errors.New("invalid job")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error as not worth retrying. The queue fails the
// job on the first occurrence instead of backing off.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
