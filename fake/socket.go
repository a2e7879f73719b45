// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

// Package fake provides scripted sockets, listeners and pollers for tests.
package fake

import (
	"io"
	"net"
	"sync"

	"github.com/momentics/wsreactor/api"
)

// ReadStep is one scripted Read result: Data if set, otherwise Err.
// A step with neither reads as EOF.
type ReadStep struct {
	Data []byte
	Err  error
}

// Chunk scripts a read that returns data.
func Chunk(s string) ReadStep { return ReadStep{Data: []byte(s)} }

// Block scripts a read that would block.
func Block() ReadStep { return ReadStep{Err: api.ErrWouldBlock} }

// EOF scripts a read observing peer close.
func EOF() ReadStep { return ReadStep{Err: io.EOF} }

// WriteStep limits one Write: at most N bytes are accepted, then Err is returned.
type WriteStep struct {
	N   int
	Err error
}

// Socket is an in-memory api.Socket. Reads past the script would block;
// writes without a script accept everything.
type Socket struct {
	mu      sync.Mutex
	fd      int
	reads   []ReadStep
	writes  []WriteStep
	written []byte
	nreads  int
	closed  bool
}

// NewSocket returns a socket with descriptor fd and the given read script.
func NewSocket(fd int, reads ...ReadStep) *Socket {
	return &Socket{fd: fd, reads: reads}
}

// Push appends read steps.
func (s *Socket) Push(steps ...ReadStep) {
	s.mu.Lock()
	s.reads = append(s.reads, steps...)
	s.mu.Unlock()
}

// ScriptWrites appends write steps.
func (s *Socket) ScriptWrites(steps ...WriteStep) {
	s.mu.Lock()
	s.writes = append(s.writes, steps...)
	s.mu.Unlock()
}

func (s *Socket) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nreads++
	if s.closed {
		return 0, net.ErrClosed
	}
	if len(s.reads) == 0 {
		return 0, api.ErrWouldBlock
	}
	step := &s.reads[0]
	if len(step.Data) == 0 {
		s.reads = s.reads[1:]
		if step.Err == nil {
			return 0, io.EOF
		}
		return 0, step.Err
	}
	n := copy(p, step.Data)
	step.Data = step.Data[n:]
	if len(step.Data) == 0 {
		s.reads = s.reads[1:]
	}
	return n, nil
}

func (s *Socket) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, net.ErrClosed
	}
	if len(s.writes) == 0 {
		s.written = append(s.written, p...)
		return len(p), nil
	}
	step := s.writes[0]
	s.writes = s.writes[1:]
	n := min(step.N, len(p))
	s.written = append(s.written, p[:n]...)
	return n, step.Err
}

func (s *Socket) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Socket) Fd() int { return s.fd }

// Written returns a copy of everything written so far.
func (s *Socket) Written() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.written)
}

// Reads returns how many times Read was called.
func (s *Socket) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nreads
}

// Closed reports whether Close was called.
func (s *Socket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
