// File: server/run.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The reactor loop: wait for readiness, queue the batch, dispatch in order.

package server

import (
	"context"
	"fmt"
	"time"

	"github.com/momentics/wsreactor/api"
)

// Run services connections on the calling goroutine until ctx is done or a
// fatal error occurs. Cancellation is observed between polls.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("websocket handshake server listening", "addr", s.Addr())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("reactor stopping", "live", s.Len())
			return nil
		default:
		}
		if _, err := s.Poll(s.cfg.PollTimeout); err != nil {
			return err
		}
	}
}

// Poll waits once for readiness and dispatches the batch in order. A listener
// that still had connections queued after a full accept batch is visited
// again after this Wait, which then does not block. It returns the number of
// notifications received from the poller.
func (s *Server) Poll(timeout time.Duration) (int, error) {
	relisten := s.relisten
	s.relisten = false
	if relisten {
		timeout = 0
	}
	n, err := s.poller.Wait(s.events, timeout)
	if err != nil {
		s.relisten = relisten
		return 0, fmt.Errorf("poll: %w", err)
	}
	for _, ev := range s.events[:n] {
		s.pending.Add(ev)
	}
	if relisten {
		s.pending.Add(api.Event{Token: api.ListenToken, Readable: true})
	}
	for s.pending.Length() > 0 {
		ev := s.pending.Remove().(api.Event)
		if err := s.OnReady(ev.Token, ev.Readable, ev.Writable); err != nil {
			return n, err
		}
	}
	return n, nil
}
