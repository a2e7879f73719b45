// File: api/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Defines the abstract interface for the readiness-notification mechanism
// the server multiplexes its sockets over (epoll on Linux).

package api

import "time"

// Event encapsulates one OS-level readiness notification.
type Event struct {
	Token    Token
	Readable bool
	Writable bool
}

// Poller is the register/reregister/wait contract of the readiness mechanism.
type Poller interface {
	// Register adds fd under token with the given interest and mode.
	Register(fd int, token Token, interest Interest, opt PollOpt) error

	// Reregister re-arms fd. Required after every one-shot notification.
	Reregister(fd int, token Token, interest Interest, opt PollOpt) error

	// Wait blocks up to timeout (negative blocks forever) and fills events.
	// It returns the number of events written.
	Wait(events []Event, timeout time.Duration) (int, error)

	// Close releases the poller backend.
	Close() error
}
