// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for wsreactor.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrWouldBlock     = errors.New("operation would block")
	ErrNotSupported   = errors.New("operation not supported")
	ErrAccept         = errors.New("accept failed")
	ErrSocketRead     = errors.New("socket read failed")
	ErrSocketWrite    = errors.New("socket write failed")
	ErrEncoding       = errors.New("header is not valid UTF-8")
	ErrMissingHeader  = errors.New("missing Sec-WebSocket-Key header")
	ErrNoPendingField = errors.New("header value without preceding field")
	ErrPeerClosed     = errors.New("peer closed connection")
	ErrNotUpgrade     = errors.New("request is not a websocket upgrade")
	ErrUnknownToken   = errors.New("token not registered")
)

// ConnError is a failure isolated to a single connection.
type ConnError struct {
	Token Token
	Op    string
	Err   error
}

// Error implements the error interface.
func (e *ConnError) Error() string {
	return fmt.Sprintf("conn %d: %s: %v", e.Token, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ConnError) Unwrap() error { return e.Err }

// Recoverable reports whether the connection may stay registered after err.
// Only plain read failures are recoverable.
func Recoverable(err error) bool {
	return errors.Is(err, ErrSocketRead) && !errors.Is(err, ErrPeerClosed)
}
