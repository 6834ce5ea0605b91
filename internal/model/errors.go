package model

import "errors"

// Error kinds shared by every stage. Wrap them with fmt.Errorf("%w: ...").
var (
	// ErrMalformed marks input that can never succeed; drop it.
	ErrMalformed = errors.New("malformed input")
	// ErrTransient marks a failure that may succeed on retry.
	ErrTransient = errors.New("transient failure")
	// ErrFatal marks a failure that must stop the component from accepting work.
	ErrFatal = errors.New("fatal")
)

// Kind returns a short label for the error kind, suitable for metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrFatal):
		return "fatal"
	default:
		return "error"
	}
}
