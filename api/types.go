// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

import "strings"

// Token correlates a readiness notification with the socket it was registered for.
type Token uint64

// ListenToken is reserved for the listening socket. Connection tokens start at 1.
const ListenToken Token = 0

// Interest is the set of readiness conditions a socket is registered for.
type Interest uint8

const (
	InterestReadable Interest = 1 << iota
	InterestWritable
)

// IsReadable reports whether the readable bit is set.
func (i Interest) IsReadable() bool { return i&InterestReadable != 0 }

// IsWritable reports whether the writable bit is set.
func (i Interest) IsWritable() bool { return i&InterestWritable != 0 }

func (i Interest) String() string {
	var parts []string
	if i.IsReadable() {
		parts = append(parts, "readable")
	}
	if i.IsWritable() {
		parts = append(parts, "writable")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// PollOpt selects the registration mode.
type PollOpt uint8

const (
	// PollEdge delivers a notification only when readiness changes.
	PollEdge PollOpt = 1 << iota
	// PollOneshot disarms the registration after one notification.
	PollOneshot
)

// Has reports whether all bits of o are set in p.
func (p PollOpt) Has(o PollOpt) bool { return p&o == o }
