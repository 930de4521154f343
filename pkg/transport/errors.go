package transport

import (
	"errors"
	"fmt"
)

// Standard error variables for driver and registry conditions.
var (
	ErrNotConnected          = errors.New("transport: not connected")
	ErrNoEnabledDriver       = errors.New("transport: no enabled and configured driver")
	ErrInvalidDriver         = errors.New("transport: invalid driver variant")
	ErrMissingConfigOption   = errors.New("transport: missing config option")
	ErrAuthenticationFailure = errors.New("transport: authentication failure")
	ErrTransientConnect      = errors.New("transport: connect failed")
)

// MissingConfigOptionError names the configuration key a driver needs.
type MissingConfigOptionError struct {
	Option string
}

func (e *MissingConfigOptionError) Error() string {
	return fmt.Sprintf("transport: missing config option %q", e.Option)
}

func (e *MissingConfigOptionError) Is(target error) bool { return target == ErrMissingConfigOption }

// MissingOption is a shorthand constructor.
func MissingOption(key string) error { return &MissingConfigOptionError{Option: key} }

// AuthError is a login rejected by the server. It is never retried.
type AuthError struct {
	Login   string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("transport: login %s rejected: %s", e.Login, e.Message)
}

func (e *AuthError) Is(target error) bool { return target == ErrAuthenticationFailure }

// ConnectError is a connect that kept failing with I/O errors until the
// attempt budget ran out.
type ConnectError struct {
	Kind     Kind
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("transport: %s connect failed after %d attempts: %v", e.Kind, e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

func (e *ConnectError) Is(target error) bool { return target == ErrTransientConnect }

// IsAuthFailure reports whether err is a rejected login.
func IsAuthFailure(err error) bool { return errors.Is(err, ErrAuthenticationFailure) }
