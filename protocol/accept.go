// File: protocol/accept.go
// Package protocol provides the server side of the RFC 6455 opening handshake.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Accept-key derivation and the fixed 101 response, written directly
// without net/http so it can run on the reactor thread.

package protocol

import (
	"crypto/sha1"
	"encoding/base64"
)

// HTTP header names used by the handshake, as sent by clients.
const (
	HeaderConnection         = "Connection"
	HeaderUpgrade            = "Upgrade"
	HeaderSecWebSocketKey    = "Sec-WebSocket-Key"
	HeaderSecWebSocketAccept = "Sec-WebSocket-Accept"
)

// WebSocketGUID is appended to the client key before hashing.
const WebSocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// StatusLine opens every handshake response.
const StatusLine = "HTTP/1.1 101 Switching Protocols\r\n"

// ComputeAcceptKey computes the Sec-WebSocket-Accept value from the client's key.
// This implements the algorithm specified in RFC6455 Section 1.3.
func ComputeAcceptKey(clientKey string) string {
	h := sha1.New()
	h.Write([]byte(clientKey))
	h.Write([]byte(WebSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// AppendSwitchingProtocols appends the complete 101 response for accept to dst.
func AppendSwitchingProtocols(dst []byte, accept string) []byte {
	dst = append(dst, StatusLine...)
	dst = append(dst, "Connection: Upgrade\r\n"...)
	dst = append(dst, HeaderSecWebSocketAccept+": "...)
	dst = append(dst, accept...)
	dst = append(dst, "\r\nUpgrade: websocket\r\n\r\n"...)
	return dst
}

// SwitchingProtocols returns the 101 response for the client's key.
func SwitchingProtocols(clientKey string) []byte {
	return AppendSwitchingProtocols(nil, ComputeAcceptKey(clientKey))
}
