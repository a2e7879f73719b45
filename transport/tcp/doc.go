// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp provides non-blocking TCP listening and connection sockets
// over raw descriptors, suitable for registration with the reactor.
package tcp
