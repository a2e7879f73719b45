// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"net"

	"github.com/momentics/wsreactor/api"
)

// AcceptStep is one scripted Accept result.
type AcceptStep struct {
	Sock api.Socket
	Err  error
}

// Listener is a scripted api.Listener. Accept past the script would block.
type Listener struct {
	fd      int
	steps   []AcceptStep
	accepts int
	closed  bool
}

// NewListener returns a listener with descriptor fd.
func NewListener(fd int) *Listener { return &Listener{fd: fd} }

// Queue appends sockets to be accepted.
func (l *Listener) Queue(socks ...api.Socket) {
	for _, s := range socks {
		l.steps = append(l.steps, AcceptStep{Sock: s})
	}
}

// Fail appends an accept failure.
func (l *Listener) Fail(err error) { l.steps = append(l.steps, AcceptStep{Err: err}) }

func (l *Listener) Accept() (api.Socket, net.Addr, error) {
	l.accepts++
	if len(l.steps) == 0 {
		return nil, nil, api.ErrWouldBlock
	}
	step := l.steps[0]
	l.steps = l.steps[1:]
	if step.Err != nil {
		return nil, nil, step.Err
	}
	return step.Sock, &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000 + l.accepts}, nil
}

func (l *Listener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4zero, Port: 10000}
}

func (l *Listener) Close() error { l.closed = true; return nil }
func (l *Listener) Fd() int      { return l.fd }

// Closed reports whether Close was called.
func (l *Listener) Closed() bool { return l.closed }

// Accepts returns how many times Accept was called.
func (l *Listener) Accepts() int { return l.accepts }
