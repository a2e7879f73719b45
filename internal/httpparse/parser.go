// File: internal/httpparse/parser.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package httpparse is a resumable push tokenizer for HTTP/1.x request
// heads. Bytes arrive in arbitrary chunks from non-blocking reads; each
// complete header line is reported to a Handler as a field/value pair.

package httpparse

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/gobwas/httphead"
)

// DefaultMaxHeaderBytes bounds the request line plus all header lines.
const DefaultMaxHeaderBytes = 8192

var (
	ErrMalformedRequestLine = errors.New("httpparse: malformed request line")
	ErrMalformedHeader      = errors.New("httpparse: malformed header line")
	ErrHeaderTooLarge       = errors.New("httpparse: request head too large")
)

// Handler receives tokenizer callbacks. Byte slices are only valid for the
// duration of the call.
type Handler interface {
	OnHeaderField(field []byte) error
	OnHeaderValue(value []byte) error
	// OnHeadersComplete returns false to stop parsing at the end of the head.
	OnHeadersComplete() bool
}

type phase uint8

const (
	phaseRequestLine phase = iota
	phaseHeaders
	phaseBody
	phasePaused
)

// Parser tokenizes a single request. It is not safe for concurrent use.
type Parser struct {
	h        Handler
	phase    phase
	line     []byte
	size     int
	maxBytes int

	method      []byte
	hasUpgrade  bool
	connUpgrade bool
	upgrade     bool
}

// NewRequestParser returns a parser that reports to h.
// maxBytes <= 0 selects DefaultMaxHeaderBytes.
func NewRequestParser(h Handler, maxBytes int) *Parser {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxHeaderBytes
	}
	return &Parser{h: h, maxBytes: maxBytes}
}

// Execute feeds data and returns how many bytes were consumed. Once the head
// is complete the remaining bytes are left unconsumed.
func (p *Parser) Execute(data []byte) (int, error) {
	consumed := 0
	for consumed < len(data) {
		if p.phase == phaseBody || p.phase == phasePaused {
			return consumed, nil
		}
		rest := data[consumed:]
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			if err := p.grow(len(rest)); err != nil {
				return consumed, err
			}
			p.line = append(p.line, rest...)
			return len(data), nil
		}
		if err := p.grow(i + 1); err != nil {
			return consumed, err
		}
		var line []byte
		if len(p.line) > 0 {
			p.line = append(p.line, rest[:i]...)
			line = p.line
		} else {
			line = rest[:i]
		}
		consumed += i + 1
		err := p.processLine(bytes.TrimSuffix(line, []byte{'\r'}))
		p.line = p.line[:0]
		if err != nil {
			return consumed, err
		}
	}
	return consumed, nil
}

// Upgrade reports whether a complete head asked for a protocol upgrade.
func (p *Parser) Upgrade() bool { return p.upgrade }

// HeadersComplete reports whether the empty line ending the head was seen.
func (p *Parser) HeadersComplete() bool {
	return p.phase == phaseBody || p.phase == phasePaused
}

// Paused reports whether the handler stopped the parser.
func (p *Parser) Paused() bool { return p.phase == phasePaused }

// Method returns the request method once the request line has been parsed.
func (p *Parser) Method() string { return string(p.method) }

func (p *Parser) grow(n int) error {
	p.size += n
	if p.size > p.maxBytes {
		return ErrHeaderTooLarge
	}
	return nil
}

func (p *Parser) processLine(line []byte) error {
	switch p.phase {
	case phaseRequestLine:
		// RFC 7230 3.5: ignore empty lines before the request line.
		if len(line) == 0 {
			return nil
		}
		req, ok := httphead.ParseRequestLine(line)
		if !ok || req.Version.Major != 1 {
			return fmt.Errorf("%w: %q", ErrMalformedRequestLine, line)
		}
		p.method = append(p.method[:0], req.Method...)
		p.phase = phaseHeaders
		return nil

	case phaseHeaders:
		if len(line) == 0 {
			return p.complete()
		}
		if line[0] == ' ' || line[0] == '\t' {
			return fmt.Errorf("%w: obsolete line folding", ErrMalformedHeader)
		}
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			return fmt.Errorf("%w: %q", ErrMalformedHeader, line)
		}
		field := line[:colon]
		if bytes.ContainsAny(field, " \t") {
			return fmt.Errorf("%w: whitespace in field name %q", ErrMalformedHeader, field)
		}
		value := bytes.Trim(line[colon+1:], " \t")
		p.observe(field, value)
		if err := p.h.OnHeaderField(field); err != nil {
			return err
		}
		return p.h.OnHeaderValue(value)
	}
	return nil
}

func (p *Parser) observe(field, value []byte) {
	switch {
	case bytes.EqualFold(field, []byte("Upgrade")):
		p.hasUpgrade = len(value) > 0
	case bytes.EqualFold(field, []byte("Connection")):
		httphead.ScanTokens(value, func(tok []byte) bool {
			if bytes.EqualFold(tok, []byte("upgrade")) {
				p.connUpgrade = true
				return false
			}
			return true
		})
	}
}

func (p *Parser) complete() error {
	p.upgrade = p.hasUpgrade && p.connUpgrade
	if p.h.OnHeadersComplete() {
		p.phase = phaseBody
	} else {
		p.phase = phasePaused
	}
	return nil
}
