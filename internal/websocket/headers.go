// File: internal/websocket/headers.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package websocket

import (
	"fmt"
	"unicode/utf8"

	"github.com/momentics/wsreactor/api"
)

// HeaderCollector accumulates tokenizer callbacks into a header mapping.
// One collector serves exactly one connection.
type HeaderCollector struct {
	headers    map[string]string
	pending    string
	hasPending bool
}

// NewHeaderCollector writes into headers, which stays owned by the caller.
func NewHeaderCollector(headers map[string]string) *HeaderCollector {
	return &HeaderCollector{headers: headers}
}

// OnHeaderField remembers field as the pending key.
func (c *HeaderCollector) OnHeaderField(field []byte) error {
	if !utf8.Valid(field) {
		return fmt.Errorf("%w: field %q", api.ErrEncoding, field)
	}
	c.pending = string(field)
	c.hasPending = true
	return nil
}

// OnHeaderValue stores value under the pending key, replacing any earlier value.
func (c *HeaderCollector) OnHeaderValue(value []byte) error {
	if !c.hasPending {
		return api.ErrNoPendingField
	}
	if !utf8.Valid(value) {
		return fmt.Errorf("%w: value of %q", api.ErrEncoding, c.pending)
	}
	c.headers[c.pending] = string(value)
	return nil
}

// OnHeadersComplete stops the tokenizer; request bodies are not needed.
func (c *HeaderCollector) OnHeadersComplete() bool { return false }
