// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness-notification mechanism behind
// api.Poller: epoll on Linux with edge-triggered, one-shot registrations.
package reactor
