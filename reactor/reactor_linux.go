//go:build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-based poller.

package reactor

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/momentics/wsreactor/api"
	"golang.org/x/sys/unix"
)

// epollPoller implements api.Poller. The token lives in the epoll data word.
type epollPoller struct {
	epfd int
	raw  []unix.EpollEvent
}

// NewPoller constructs the platform poller.
func NewPoller() (api.Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &epollPoller{epfd: epfd}, nil
}

func (p *epollPoller) Register(fd int, token api.Token, interest api.Interest, opt api.PollOpt) error {
	ev := epollEvent(token, interest, opt)
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add fd=%d: %w", fd, err)
	}
	return nil
}

func (p *epollPoller) Reregister(fd int, token api.Token, interest api.Interest, opt api.PollOpt) error {
	ev := epollEvent(token, interest, opt)
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod fd=%d: %w", fd, err)
	}
	return nil
}

// Wait blocks for events. An interrupted wait returns zero events.
func (p *epollPoller) Wait(events []api.Event, timeout time.Duration) (int, error) {
	if len(events) == 0 {
		return 0, errors.New("reactor: empty event buffer")
	}
	if cap(p.raw) < len(events) {
		p.raw = make([]unix.EpollEvent, len(events))
	}
	raw := p.raw[:len(events)]
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	n, err := unix.EpollWait(p.epfd, raw, ms)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	for i := 0; i < n; i++ {
		events[i] = translate(&raw[i])
	}
	return n, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}

func epollEvent(token api.Token, interest api.Interest, opt api.PollOpt) unix.EpollEvent {
	var ev unix.EpollEvent
	if interest.IsReadable() {
		ev.Events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest.IsWritable() {
		ev.Events |= unix.EPOLLOUT
	}
	if opt.Has(api.PollEdge) {
		ev.Events |= unix.EPOLLET
	}
	if opt.Has(api.PollOneshot) {
		ev.Events |= unix.EPOLLONESHOT
	}
	setToken(&ev, token)
	return ev
}

// Error and hang-up conditions are reported as both readable and writable so
// the owner observes them through whichever handler it is waiting in.
func translate(ev *unix.EpollEvent) api.Event {
	out := api.Event{Token: getToken(ev)}
	if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
		out.Readable = true
	}
	if ev.Events&unix.EPOLLOUT != 0 {
		out.Writable = true
	}
	if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		out.Readable = true
		out.Writable = true
	}
	return out
}

// The 64-bit epoll_data union starts at the Fd field on every Linux port.
func setToken(ev *unix.EpollEvent, token api.Token) {
	*(*uint64)(unsafe.Pointer(&ev.Fd)) = uint64(token)
}

func getToken(ev *unix.EpollEvent) api.Token {
	return api.Token(*(*uint64)(unsafe.Pointer(&ev.Fd)))
}
