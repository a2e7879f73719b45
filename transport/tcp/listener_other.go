//go:build !linux

// File: transport/tcp/listener_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tcp

import (
	"fmt"
	"net"

	"github.com/momentics/wsreactor/api"
)

// Listener is unavailable off Linux.
type Listener struct{}

// Listen reports api.ErrNotSupported.
func Listen(addr string, backlog int) (*Listener, error) {
	return nil, fmt.Errorf("tcp listen %s: %w", addr, api.ErrNotSupported)
}

func (l *Listener) Accept() (api.Socket, net.Addr, error) { return nil, nil, api.ErrNotSupported }
func (l *Listener) Addr() net.Addr                        { return nil }
func (l *Listener) Fd() int                               { return -1 }
func (l *Listener) Close() error                          { return nil }
