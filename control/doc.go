// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package control exposes runtime observability for the reactor.
package control
