// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/eapache/queue"
	"github.com/momentics/wsreactor/api"
	"github.com/momentics/wsreactor/control"
	"github.com/momentics/wsreactor/internal/httpparse"
	"github.com/momentics/wsreactor/internal/websocket"
	"github.com/momentics/wsreactor/reactor"
	"github.com/momentics/wsreactor/transport/tcp"
	"golang.org/x/time/rate"
)

// connOpt is the registration mode of every connection socket.
const connOpt = api.PollEdge | api.PollOneshot

// New binds the listener (unless WithListener is given), creates the poller
// and registers the listener under api.ListenToken.
func New(cfg *Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		cfg:     cfg.withDefaults(),
		conns:   make(map[api.Token]*entry),
		next:    api.ListenToken,
		pending: queue.New(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = control.NewMetrics(nil)
	}
	if s.limiter == nil && s.cfg.AcceptRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(s.cfg.AcceptRate), s.cfg.AcceptBurst)
	}
	s.events = make([]api.Event, s.cfg.MaxEvents)

	if s.listener == nil {
		ln, err := tcp.Listen(s.cfg.ListenAddr, s.cfg.Backlog)
		if err != nil {
			return nil, err
		}
		s.listener = ln
	}
	if s.poller == nil {
		p, err := reactor.NewPoller()
		if err != nil {
			s.listener.Close()
			return nil, err
		}
		s.poller = p
	}
	if err := s.poller.Register(s.listener.Fd(), api.ListenToken, api.InterestReadable, api.PollEdge); err != nil {
		s.listener.Close()
		s.poller.Close()
		return nil, fmt.Errorf("register listener: %w", err)
	}
	return s, nil
}

// OnReady dispatches one readiness notification. Readable is handled before
// writable. The returned error is fatal for the reactor; per-connection
// failures are handled here and never returned.
func (s *Server) OnReady(token api.Token, readable, writable bool) error {
	if readable {
		if token == api.ListenToken {
			s.acceptReady()
		} else {
			e, ok := s.conns[token]
			if !ok {
				return fmt.Errorf("%w: %d", api.ErrUnknownToken, token)
			}
			s.dispatch(token, e, "read", e.conn.OnReadable)
		}
	}
	if writable && token != api.ListenToken {
		e, ok := s.conns[token]
		if !ok {
			if readable {
				// dropped by the readable step above
				return nil
			}
			return fmt.Errorf("%w: %d", api.ErrUnknownToken, token)
		}
		s.dispatch(token, e, "write", e.conn.OnWritable)
	}
	return nil
}

func (s *Server) acceptReady() {
	for i := 0; i < s.cfg.AcceptBatch; i++ {
		sock, addr, err := s.listener.Accept()
		if errors.Is(err, api.ErrWouldBlock) {
			if i == 0 {
				s.log.Debug("listener ready without pending connection")
			}
			return
		}
		if err != nil {
			s.metrics.AcceptFailed()
			if abortedAccept(err) {
				s.log.Debug("pending connection aborted before accept", "err", err)
				continue
			}
			s.log.Warn("accept failed", "err", err)
			s.relisten = true
			return
		}
		if s.limiter != nil && !s.limiter.Allow() {
			s.metrics.Rejected()
			s.log.Debug("connection over accept limit", "remote", addr)
			sock.Close()
			continue
		}
		s.admit(sock, addr)
	}
	// The listener is edge-triggered; revisit it on the next poll cycle.
	s.relisten = true
}

// abortedAccept reports accept failures that concern only the connection at
// the head of the backlog.
func abortedAccept(err error) bool {
	return errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPROTO) ||
		errors.Is(err, syscall.EPERM)
}

func (s *Server) admit(sock api.Socket, addr net.Addr) {
	s.next++
	token := s.next
	conn := websocket.NewConnection(sock, websocket.Config{
		ReadBufferSize:  s.cfg.ReadBufferSize,
		MaxReadsPerWake: s.cfg.MaxReadsPerWake,
		MaxHeaderBytes:  s.cfg.MaxHeaderBytes,
	})
	s.conns[token] = &entry{conn: conn, acceptedAt: time.Now()}
	if err := s.poller.Register(sock.Fd(), token, conn.Interest(), connOpt); err != nil {
		delete(s.conns, token)
		s.metrics.AcceptFailed()
		s.log.Warn("register connection failed", "token", token, "remote", addr, "err", err)
		sock.Close()
		return
	}
	s.metrics.Accepted(conn.State().String())
	s.log.Debug("connection accepted", "token", token, "remote", addr)
}

// dispatch runs one connection step and re-arms the socket with the
// connection's current interest.
func (s *Server) dispatch(token api.Token, e *entry, op string, step func() error) {
	before := e.conn.State()
	err := step()
	after := e.conn.State()
	s.metrics.Transition(before.String(), after.String())
	if before != after && after == websocket.StateConnected {
		s.metrics.HandshakeCompleted(time.Since(e.acceptedAt))
		s.log.Debug("handshake complete", "token", token)
	}

	if err != nil {
		cerr := &api.ConnError{Token: token, Op: op, Err: err}
		if !api.Recoverable(err) {
			s.drop(token, e, cerr)
			return
		}
		s.metrics.ConnectionFailed(errorKind(cerr))
		s.log.Warn("socket read failed", "token", token, "err", err)
	}

	if err := s.poller.Reregister(e.conn.Socket().Fd(), token, e.conn.Interest(), connOpt); err != nil {
		s.drop(token, e, &api.ConnError{Token: token, Op: "rearm", Err: err})
	}
}

// drop removes a failed connection from the registry and closes it.
func (s *Server) drop(token api.Token, e *entry, err error) {
	delete(s.conns, token)
	state := e.conn.State()
	s.metrics.Removed(state.String())
	s.metrics.ConnectionFailed(errorKind(err))
	if errors.Is(err, api.ErrPeerClosed) {
		s.log.Debug("connection closed by peer", "token", token, "state", state)
	} else {
		s.log.Warn("dropping connection", "token", token, "state", state, "err", err)
	}
	if cerr := e.conn.Close(); cerr != nil {
		s.log.Debug("close failed", "token", token, "err", cerr)
	}
}

func errorKind(err error) string {
	var cerr *api.ConnError
	switch {
	case errors.As(err, &cerr) && cerr.Op == "rearm":
		return "rearm"
	case errors.Is(err, api.ErrPeerClosed):
		return "peer_closed"
	case errors.Is(err, api.ErrEncoding):
		return "encoding"
	case errors.Is(err, api.ErrMissingHeader):
		return "missing_key"
	case errors.Is(err, api.ErrNotUpgrade):
		return "not_upgrade"
	case errors.Is(err, api.ErrSocketRead):
		return "read"
	case errors.Is(err, api.ErrSocketWrite):
		return "write"
	case errors.Is(err, api.ErrNoPendingField),
		errors.Is(err, httpparse.ErrMalformedRequestLine),
		errors.Is(err, httpparse.ErrMalformedHeader),
		errors.Is(err, httpparse.ErrHeaderTooLarge):
		return "protocol"
	}
	return "other"
}

// Addr returns the listener's bound address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Len returns the number of registered connections.
func (s *Server) Len() int { return len(s.conns) }

// State returns the handshake state of the connection registered under token.
func (s *Server) State(token api.Token) (websocket.State, bool) {
	e, ok := s.conns[token]
	if !ok {
		return 0, false
	}
	return e.conn.State(), true
}

// Interest returns the current interest of the connection under token.
func (s *Server) Interest(token api.Token) (api.Interest, bool) {
	e, ok := s.conns[token]
	if !ok {
		return 0, false
	}
	return e.conn.Interest(), true
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *control.Metrics { return s.metrics }

// Close closes every connection, the listener and the poller.
func (s *Server) Close() error {
	var errs []error
	for token, e := range s.conns {
		s.metrics.Removed(e.conn.State().String())
		if err := e.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close conn %d: %w", token, err))
		}
		delete(s.conns, token)
	}
	if err := s.listener.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close listener: %w", err))
	}
	if err := s.poller.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close poller: %w", err))
	}
	return errors.Join(errs...)
}
