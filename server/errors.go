package server

import "fmt"

// ClientError is a business rule violation answered with ERROR_CLIENT.
type ClientError struct {
	Msg string
}

func (e *ClientError) Error() string { return e.Msg }

func clientErr(format string, args ...any) error {
	return &ClientError{Msg: fmt.Sprintf(format, args...)}
}

// AuthorizationError is answered with ERROR_AUTH.
type AuthorizationError struct {
	Msg string
}

func (e *AuthorizationError) Error() string { return e.Msg }

// ConnectionError is an I/O failure on one socket. It ends that connection only.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string { return "connection " + e.Op + ": " + e.Err.Error() }

func (e *ConnectionError) Unwrap() error { return e.Err }
