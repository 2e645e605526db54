package hal

import (
	"errors"
	"fmt"
)

// Error kinds shared by every channel implementation. Backends wrap their
// failures once; decorators and the device facade return them unchanged.
var (
	ErrInvalidChannel   = errors.New("invalid channel")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNotImplemented   = errors.New("not implemented")
	ErrWatchdogTimeout  = errors.New("watchdog timeout")
	ErrAccessFailed     = errors.New("device access failed")
	ErrParse            = errors.New("parse error")
	ErrGeneric          = errors.New("generic error")
)

// AccessError wraps an underlying I/O failure of a backend.
type AccessError struct {
	Op  string
	Err error
}

func (e *AccessError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%v: %v", ErrAccessFailed, e.Err)
	}
	return fmt.Sprintf("%v: %s: %v", ErrAccessFailed, e.Op, e.Err)
}

// Unwrap makes errors.Is match both ErrAccessFailed and the cause.
func (e *AccessError) Unwrap() []error {
	return []error{ErrAccessFailed, e.Err}
}

// AccessFailed wraps err as an access error. A nil err stays nil and errors
// that already carry a kind are returned as they are.
func AccessFailed(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != ErrGeneric {
		return err
	}
	return &AccessError{Op: op, Err: err}
}

// ParseFailed reports a configuration or calibration parse failure.
func ParseFailed(what string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrParse, what, err)
}

// KindOf returns the sentinel describing err, ErrGeneric if none matches.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrInvalidChannel,
		ErrInvalidParameter,
		ErrNotImplemented,
		ErrWatchdogTimeout,
		ErrAccessFailed,
		ErrParse,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrGeneric
}
