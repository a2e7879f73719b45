// File: server/options.go
// Package server defines functional options for the Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"log/slog"

	"github.com/momentics/wsreactor/api"
	"github.com/momentics/wsreactor/control"
	"golang.org/x/time/rate"
)

// Option customizes server initialization.
type Option func(*Server)

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithMetrics shares a metrics set, e.g. one exported over HTTP.
func WithMetrics(m *control.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithPoller replaces the platform readiness mechanism.
func WithPoller(p api.Poller) Option {
	return func(s *Server) {
		s.poller = p
	}
}

// WithListener uses an already bound listener instead of Config.ListenAddr.
func WithListener(l api.Listener) Option {
	return func(s *Server) {
		s.listener = l
	}
}

// WithAcceptLimiter admits new connections only while lim allows.
func WithAcceptLimiter(lim *rate.Limiter) Option {
	return func(s *Server) {
		s.limiter = lim
	}
}
