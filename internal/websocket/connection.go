// File: internal/websocket/connection.go
// Package websocket implements the per-connection handshake state machine.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Connection is driven by the reactor: OnReadable while it waits for the
// upgrade request, OnWritable while the 101 response is pending. After each
// call the reactor re-arms the socket with Interest().

package websocket

import (
	"errors"
	"fmt"
	"io"

	"github.com/momentics/wsreactor/api"
	"github.com/momentics/wsreactor/internal/httpparse"
	"github.com/momentics/wsreactor/protocol"
)

// State is the handshake lifecycle. It only moves forward.
type State uint8

const (
	StateAwaitingHandshake State = iota
	StateHandshakeResponse
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateAwaitingHandshake:
		return "awaiting_handshake"
	case StateHandshakeResponse:
		return "handshake_response"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

const (
	DefaultReadBufferSize  = 2048
	DefaultMaxReadsPerWake = 16
)

// Config tunes a Connection. Zero values select the defaults.
type Config struct {
	ReadBufferSize  int
	MaxReadsPerWake int
	MaxHeaderBytes  int
}

// Connection owns one socket and everything needed to complete its handshake.
type Connection struct {
	sock     api.Socket
	headers  map[string]string
	parser   *httpparse.Parser
	interest api.Interest
	state    State
	buf      []byte
	maxReads int
	out      []byte
}

// NewConnection starts in StateAwaitingHandshake with readable interest.
func NewConnection(sock api.Socket, cfg Config) *Connection {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}
	if cfg.MaxReadsPerWake <= 0 {
		cfg.MaxReadsPerWake = DefaultMaxReadsPerWake
	}
	headers := make(map[string]string)
	return &Connection{
		sock:     sock,
		headers:  headers,
		parser:   httpparse.NewRequestParser(NewHeaderCollector(headers), cfg.MaxHeaderBytes),
		interest: api.InterestReadable,
		state:    StateAwaitingHandshake,
		buf:      make([]byte, cfg.ReadBufferSize),
		maxReads: cfg.MaxReadsPerWake,
	}
}

func (c *Connection) Socket() api.Socket     { return c.sock }
func (c *Connection) State() State           { return c.state }
func (c *Connection) Interest() api.Interest { return c.interest }

// Header returns a received header value; names are case-sensitive.
func (c *Connection) Header(name string) (string, bool) {
	v, ok := c.headers[name]
	return v, ok
}

// Close releases the socket.
func (c *Connection) Close() error { return c.sock.Close() }

// OnReadable reads until the socket would block, the upgrade request is
// recognized, or the per-wake read budget runs out.
//
// Errors wrapping api.ErrSocketRead leave the connection usable; every other
// error means the connection should be dropped.
func (c *Connection) OnReadable() error {
	switch c.state {
	case StateAwaitingHandshake:
		return c.readHandshake()
	case StateConnected:
		return c.drain()
	}
	return nil
}

func (c *Connection) readHandshake() error {
	for i := 0; i < c.maxReads; i++ {
		n, err := c.sock.Read(c.buf)
		if n > 0 {
			if _, perr := c.parser.Execute(c.buf[:n]); perr != nil {
				return fmt.Errorf("parse request: %w", perr)
			}
			if c.parser.Upgrade() {
				c.state = StateHandshakeResponse
				c.interest = api.InterestWritable
				return nil
			}
			if c.parser.HeadersComplete() {
				return fmt.Errorf("%w: %s request", api.ErrNotUpgrade, c.parser.Method())
			}
		}
		if done, rerr := readOutcome(n, err); done {
			return rerr
		}
	}
	return nil
}

// drain discards inbound bytes after the handshake so a peer close is noticed.
func (c *Connection) drain() error {
	for i := 0; i < c.maxReads; i++ {
		n, err := c.sock.Read(c.buf)
		if done, rerr := readOutcome(n, err); done {
			return rerr
		}
	}
	return nil
}

// readOutcome classifies a read result; done reports that the loop must stop.
func readOutcome(n int, err error) (done bool, _ error) {
	switch {
	case err == nil && n > 0:
		return false, nil
	case errors.Is(err, api.ErrWouldBlock):
		return true, nil
	case err == nil, errors.Is(err, io.EOF):
		return true, api.ErrPeerClosed
	default:
		return true, fmt.Errorf("%w: %w", api.ErrSocketRead, err)
	}
}

// OnWritable sends the 101 response. A would-block or short write keeps the
// remaining bytes for the next writable notification.
func (c *Connection) OnWritable() error {
	if c.state != StateHandshakeResponse {
		return nil
	}
	if c.out == nil {
		key, ok := c.headers[protocol.HeaderSecWebSocketKey]
		if !ok {
			return api.ErrMissingHeader
		}
		c.out = protocol.SwitchingProtocols(key)
	}
	n, err := c.sock.Write(c.out)
	c.out = c.out[n:]
	if err != nil {
		if errors.Is(err, api.ErrWouldBlock) {
			return nil
		}
		return fmt.Errorf("%w: %w", api.ErrSocketWrite, err)
	}
	if len(c.out) > 0 {
		return nil
	}
	c.out = nil
	c.state = StateConnected
	c.interest = api.InterestReadable
	return nil
}
