// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"errors"
	"time"

	"github.com/momentics/wsreactor/api"
)

// Registration records one Register or Reregister call.
type Registration struct {
	Fd       int
	Token    api.Token
	Interest api.Interest
	Opt      api.PollOpt
	Rearm    bool
}

// Poller records registrations and replays scripted event batches.
// Wait with nothing scripted returns zero events.
type Poller struct {
	Calls    []Registration
	batches  [][]api.Event
	RegErr   error
	ReregErr error
	// Timeouts records the timeout of every Wait call.
	Timeouts []time.Duration
	closed   bool
}

// NewPoller returns an empty fake poller.
func NewPoller() *Poller { return &Poller{} }

// Deliver queues one batch for a later Wait.
func (p *Poller) Deliver(events ...api.Event) {
	p.batches = append(p.batches, events)
}

func (p *Poller) Register(fd int, token api.Token, interest api.Interest, opt api.PollOpt) error {
	if p.RegErr != nil {
		return p.RegErr
	}
	p.Calls = append(p.Calls, Registration{Fd: fd, Token: token, Interest: interest, Opt: opt})
	return nil
}

func (p *Poller) Reregister(fd int, token api.Token, interest api.Interest, opt api.PollOpt) error {
	if p.ReregErr != nil {
		return p.ReregErr
	}
	p.Calls = append(p.Calls, Registration{Fd: fd, Token: token, Interest: interest, Opt: opt, Rearm: true})
	return nil
}

func (p *Poller) Wait(events []api.Event, timeout time.Duration) (int, error) {
	p.Timeouts = append(p.Timeouts, timeout)
	if p.closed {
		return 0, errors.New("fake poller closed")
	}
	if len(p.batches) == 0 {
		return 0, nil
	}
	n := copy(events, p.batches[0])
	p.batches = p.batches[1:]
	return n, nil
}

func (p *Poller) Close() error { p.closed = true; return nil }

// Last returns the most recent registration for token.
func (p *Poller) Last(token api.Token) (Registration, bool) {
	for i := len(p.Calls) - 1; i >= 0; i-- {
		if p.Calls[i].Token == token {
			return p.Calls[i], true
		}
	}
	return Registration{}, false
}

// Pending reports how many scripted batches have not been consumed.
func (p *Poller) Pending() int { return len(p.batches) }
