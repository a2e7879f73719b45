// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Non-blocking socket abstractions consumed by the reactor and connections.

package api

import "net"

// Socket is a non-blocking, full-duplex stream socket.
//
// Read and Write return ErrWouldBlock instead of blocking. Read returns
// io.EOF once the peer has closed its side.
type Socket interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error

	// Fd returns the descriptor registered with the Poller.
	Fd() int
}

// Listener is a non-blocking listening socket.
type Listener interface {
	// Accept returns ErrWouldBlock when no connection is pending.
	Accept() (Socket, net.Addr, error)
	Addr() net.Addr
	Close() error
	Fd() int
}
