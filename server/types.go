// File: server/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server configuration and registry types.

package server

import (
	"log/slog"
	"time"

	"github.com/eapache/queue"
	"github.com/momentics/wsreactor/api"
	"github.com/momentics/wsreactor/control"
	"github.com/momentics/wsreactor/internal/websocket"
	"golang.org/x/time/rate"
)

// Config holds all server-side configuration parameters.
type Config struct {
	ListenAddr      string        // TCP bind address, e.g. "0.0.0.0:10000"
	Backlog         int           // listen(2) backlog
	ReadBufferSize  int           // per-read buffer of a connection
	MaxReadsPerWake int           // read calls per readable notification
	MaxHeaderBytes  int           // request line plus headers
	AcceptBatch     int           // accepts per listener notification
	MaxEvents       int           // readiness events per poll
	PollTimeout     time.Duration // upper bound on one poll; lets Run observe cancellation. Values <= 0 select the default
	AcceptRate      float64       // accepted connections per second, 0 = unlimited
	AcceptBurst     int           // limiter burst when AcceptRate > 0
}

// DefaultConfig returns the compiled-in defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      "0.0.0.0:10000",
		Backlog:         1024,
		ReadBufferSize:  websocket.DefaultReadBufferSize,
		MaxReadsPerWake: websocket.DefaultMaxReadsPerWake,
		MaxHeaderBytes:  8192,
		AcceptBatch:     16,
		MaxEvents:       128,
		PollTimeout:     500 * time.Millisecond,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ListenAddr == "" {
		c.ListenAddr = d.ListenAddr
	}
	if c.Backlog <= 0 {
		c.Backlog = d.Backlog
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.MaxReadsPerWake <= 0 {
		c.MaxReadsPerWake = d.MaxReadsPerWake
	}
	if c.MaxHeaderBytes <= 0 {
		c.MaxHeaderBytes = d.MaxHeaderBytes
	}
	if c.AcceptBatch <= 0 {
		c.AcceptBatch = d.AcceptBatch
	}
	if c.MaxEvents <= 0 {
		c.MaxEvents = d.MaxEvents
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = d.PollTimeout
	}
	if c.AcceptBurst <= 0 {
		c.AcceptBurst = 1
	}
	return c
}

// entry is one registry slot.
type entry struct {
	conn       *websocket.Connection
	acceptedAt time.Time
}

// Server is the reactor: the listening socket, the connection registry and
// the dispatch of readiness notifications. All methods except construction
// must be called from the goroutine running the loop.
type Server struct {
	cfg      Config
	log      *slog.Logger
	poller   api.Poller
	listener api.Listener
	limiter  *rate.Limiter
	metrics  *control.Metrics

	conns   map[api.Token]*entry
	next    api.Token
	events  []api.Event
	pending *queue.Queue

	// relisten schedules a listener revisit after the next poll.
	relisten bool
}
