package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/momentics/wsreactor/api"
	"github.com/momentics/wsreactor/fake"
	"github.com/momentics/wsreactor/internal/websocket"
	"golang.org/x/time/rate"
)

const (
	key1    = "dGhlIHNhbXBsZSBub25jZQ=="
	accept1 = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	key2    = "x3JJHMbDL1EzLkh9GBhXDw=="
	accept2 = "HSmrc0sMlYUkAGmm5OPpG2HaGWk="
)

func upgradeRequest(key string) string {
	return "GET / HTTP/1.1\r\nHost: x\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + key + "\r\n\r\n"
}

func upgradeResponse(accept string) string {
	return "HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\nUpgrade: websocket\r\n\r\n"
}

type harness struct {
	srv      *Server
	poller   *fake.Poller
	listener *fake.Listener
}

func newHarness(t *testing.T, cfg *Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{poller: fake.NewPoller(), listener: fake.NewListener(3)}
	opts = append([]Option{
		WithPoller(h.poller),
		WithListener(h.listener),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	srv, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.srv = srv
	return h
}

func (h *harness) ready(t *testing.T, token api.Token, readable, writable bool) {
	t.Helper()
	if err := h.srv.OnReady(token, readable, writable); err != nil {
		t.Fatalf("OnReady(%d, %v, %v): %v", token, readable, writable, err)
	}
}

func (h *harness) wantArmed(t *testing.T, token api.Token, interest api.Interest) {
	t.Helper()
	reg, ok := h.poller.Last(token)
	if !ok {
		t.Fatalf("token %d never registered", token)
	}
	if reg.Interest != interest || reg.Opt != api.PollEdge|api.PollOneshot {
		t.Fatalf("token %d armed with %v/%v, want %v edge|oneshot", token, reg.Interest, reg.Opt, interest)
	}
}

func (h *harness) wantState(t *testing.T, token api.Token, want websocket.State) {
	t.Helper()
	got, ok := h.srv.State(token)
	if !ok {
		t.Fatalf("token %d not in registry", token)
	}
	if got != want {
		t.Fatalf("token %d state = %v, want %v", token, got, want)
	}
}

func TestNewRegistersListener(t *testing.T) {
	h := newHarness(t, nil)
	want := []fake.Registration{{Fd: 3, Token: api.ListenToken, Interest: api.InterestReadable, Opt: api.PollEdge}}
	if diff := cmp.Diff(want, h.poller.Calls); diff != "" {
		t.Errorf("registrations (-want +got):\n%s", diff)
	}
}

func TestAcceptAllocatesSequentialTokens(t *testing.T) {
	h := newHarness(t, nil)
	h.listener.Queue(fake.NewSocket(10), fake.NewSocket(11))
	h.ready(t, api.ListenToken, true, false)

	if h.srv.Len() != 2 {
		t.Fatalf("Len = %d", h.srv.Len())
	}
	want := []fake.Registration{
		{Fd: 3, Token: 0, Interest: api.InterestReadable, Opt: api.PollEdge},
		{Fd: 10, Token: 1, Interest: api.InterestReadable, Opt: api.PollEdge | api.PollOneshot},
		{Fd: 11, Token: 2, Interest: api.InterestReadable, Opt: api.PollEdge | api.PollOneshot},
	}
	if diff := cmp.Diff(want, h.poller.Calls); diff != "" {
		t.Errorf("registrations (-want +got):\n%s", diff)
	}
	h.wantState(t, 1, websocket.StateAwaitingHandshake)

	h.listener.Queue(fake.NewSocket(12))
	h.ready(t, api.ListenToken, true, false)
	if _, ok := h.srv.State(3); !ok {
		t.Fatal("third connection did not get token 3")
	}
}

func TestHandshakeAcrossTwoReads(t *testing.T) {
	h := newHarness(t, nil)
	req := upgradeRequest(key1)
	split := strings.Index(req, "Sec-WebSocket-Key") + 5
	sock := fake.NewSocket(10, fake.Chunk(req[:split]), fake.Block())
	h.listener.Queue(sock)
	h.ready(t, api.ListenToken, true, false)

	h.ready(t, 1, true, false)
	h.wantState(t, 1, websocket.StateAwaitingHandshake)
	h.wantArmed(t, 1, api.InterestReadable)

	sock.Push(fake.Chunk(req[split:]))
	h.ready(t, 1, true, false)
	h.wantState(t, 1, websocket.StateHandshakeResponse)
	h.wantArmed(t, 1, api.InterestWritable)
	if sock.Written() != "" {
		t.Fatal("response written before writable notification")
	}

	h.ready(t, 1, false, true)
	h.wantState(t, 1, websocket.StateConnected)
	h.wantArmed(t, 1, api.InterestReadable)
	if got := sock.Written(); got != upgradeResponse(accept1) {
		t.Errorf("response:\n got %q\nwant %q", got, upgradeResponse(accept1))
	}
}

func TestIndependentConnections(t *testing.T) {
	h := newHarness(t, nil)
	a := fake.NewSocket(10, fake.Chunk(upgradeRequest(key1)))
	b := fake.NewSocket(11, fake.Chunk(upgradeRequest(key2)))
	h.listener.Queue(a, b)
	h.ready(t, api.ListenToken, true, false)

	h.ready(t, 2, true, false)
	h.ready(t, 1, true, false)
	h.ready(t, 1, false, true)
	h.ready(t, 2, false, true)

	if got := a.Written(); got != upgradeResponse(accept1) {
		t.Errorf("a got %q", got)
	}
	if got := b.Written(); got != upgradeResponse(accept2) {
		t.Errorf("b got %q", got)
	}
	h.wantState(t, 1, websocket.StateConnected)
	h.wantState(t, 2, websocket.StateConnected)
}

func TestUnknownTokenIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	for _, tc := range []struct{ r, w bool }{{true, false}, {false, true}} {
		err := h.srv.OnReady(99, tc.r, tc.w)
		if !errors.Is(err, api.ErrUnknownToken) {
			t.Errorf("OnReady(99, %v, %v) = %v", tc.r, tc.w, err)
		}
	}
}

func TestAcceptErrorIsNotFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.listener.Fail(errors.New("too many open files"))
	h.ready(t, api.ListenToken, true, false)
	if h.srv.Len() != 0 || len(h.poller.Calls) != 1 {
		t.Fatalf("Len = %d, calls = %d", h.srv.Len(), len(h.poller.Calls))
	}
	h.listener.Queue(fake.NewSocket(10))
	h.ready(t, api.ListenToken, true, false)
	if h.srv.Len() != 1 {
		t.Fatalf("accept after error: Len = %d", h.srv.Len())
	}
}

func TestSpuriousListenerWakeup(t *testing.T) {
	h := newHarness(t, nil)
	h.ready(t, api.ListenToken, true, false)
	if h.srv.Len() != 0 {
		t.Fatalf("Len = %d", h.srv.Len())
	}
}

func TestMissingKeyDropsConnection(t *testing.T) {
	h := newHarness(t, nil)
	sock := fake.NewSocket(10, fake.Chunk("GET / HTTP/1.1\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n"))
	h.listener.Queue(sock)
	h.ready(t, api.ListenToken, true, false)
	h.ready(t, 1, true, false)
	h.ready(t, 1, false, true)

	if sock.Written() != "" {
		t.Errorf("wrote %q without a key", sock.Written())
	}
	if !sock.Closed() || h.srv.Len() != 0 {
		t.Fatalf("closed=%v Len=%d", sock.Closed(), h.srv.Len())
	}
	if err := h.srv.OnReady(1, true, false); !errors.Is(err, api.ErrUnknownToken) {
		t.Errorf("dropped token still dispatchable: %v", err)
	}
}

func TestReadErrorKeepsConnection(t *testing.T) {
	h := newHarness(t, nil)
	sock := fake.NewSocket(10, fake.ReadStep{Err: errors.New("connection reset by peer")})
	h.listener.Queue(sock)
	h.ready(t, api.ListenToken, true, false)
	h.ready(t, 1, true, false)

	if sock.Closed() {
		t.Fatal("read error closed the connection")
	}
	h.wantState(t, 1, websocket.StateAwaitingHandshake)
	h.wantArmed(t, 1, api.InterestReadable)
}

func TestPeerCloseDropsAndSkipsWritable(t *testing.T) {
	h := newHarness(t, nil)
	sock := fake.NewSocket(10, fake.EOF())
	h.listener.Queue(sock)
	h.ready(t, api.ListenToken, true, false)
	h.ready(t, 1, true, true)
	if !sock.Closed() || h.srv.Len() != 0 {
		t.Fatalf("closed=%v Len=%d", sock.Closed(), h.srv.Len())
	}
}

func TestRearmFailureDropsConnection(t *testing.T) {
	h := newHarness(t, nil)
	sock := fake.NewSocket(10, fake.Block())
	h.listener.Queue(sock)
	h.ready(t, api.ListenToken, true, false)
	h.poller.ReregErr = errors.New("bad file descriptor")
	h.ready(t, 1, true, false)
	if !sock.Closed() || h.srv.Len() != 0 {
		t.Fatalf("closed=%v Len=%d", sock.Closed(), h.srv.Len())
	}
}

func TestRegisterFailureClosesSocket(t *testing.T) {
	h := newHarness(t, nil)
	sock := fake.NewSocket(10)
	h.listener.Queue(sock)
	h.poller.RegErr = errors.New("no space left on device")
	h.ready(t, api.ListenToken, true, false)
	if !sock.Closed() || h.srv.Len() != 0 {
		t.Fatalf("closed=%v Len=%d", sock.Closed(), h.srv.Len())
	}
}

func TestAcceptLimiterRejects(t *testing.T) {
	h := newHarness(t, nil, WithAcceptLimiter(rate.NewLimiter(0, 1)))
	first, second := fake.NewSocket(10), fake.NewSocket(11)
	h.listener.Queue(first, second)
	h.ready(t, api.ListenToken, true, false)
	if h.srv.Len() != 1 || first.Closed() || !second.Closed() {
		t.Fatalf("Len=%d first.closed=%v second.closed=%v", h.srv.Len(), first.Closed(), second.Closed())
	}
}

func TestPollDispatchesBatch(t *testing.T) {
	h := newHarness(t, nil)
	sock := fake.NewSocket(10, fake.Chunk(upgradeRequest(key1)))
	h.listener.Queue(sock)
	h.poller.Deliver(api.Event{Token: api.ListenToken, Readable: true})
	h.poller.Deliver(api.Event{Token: 1, Readable: true})
	h.poller.Deliver(api.Event{Token: 1, Writable: true})
	for i := 0; i < 3; i++ {
		if _, err := h.srv.Poll(0); err != nil {
			t.Fatalf("Poll #%d: %v", i, err)
		}
	}
	h.wantState(t, 1, websocket.StateConnected)
	if sock.Written() != upgradeResponse(accept1) {
		t.Errorf("response %q", sock.Written())
	}
}

func TestPollRevisitsListenerAfterAcceptBatch(t *testing.T) {
	h := newHarness(t, &Config{AcceptBatch: 1})
	h.listener.Queue(fake.NewSocket(10), fake.NewSocket(11), fake.NewSocket(12))
	h.poller.Deliver(api.Event{Token: api.ListenToken, Readable: true})
	for want := 1; want <= 3; want++ {
		if _, err := h.srv.Poll(time.Second); err != nil {
			t.Fatal(err)
		}
		if h.srv.Len() != want {
			t.Fatalf("after poll %d: Len = %d", want, h.srv.Len())
		}
	}
	want := []time.Duration{time.Second, 0, 0}
	if diff := cmp.Diff(want, h.poller.Timeouts); diff != "" {
		t.Errorf("wait timeouts (-want +got):\n%s", diff)
	}
}

func TestAcceptBatchBoundsOnePoll(t *testing.T) {
	h := newHarness(t, &Config{AcceptBatch: 16})
	first := fake.NewSocket(100, fake.Chunk(upgradeRequest(key1)))
	h.listener.Queue(first)
	for i := 0; i < 100; i++ {
		h.listener.Queue(fake.NewSocket(101 + i))
	}
	h.poller.Deliver(api.Event{Token: api.ListenToken, Readable: true})
	if _, err := h.srv.Poll(0); err != nil {
		t.Fatal(err)
	}
	if h.srv.Len() != 16 {
		t.Fatalf("one poll accepted %d connections, want 16", h.srv.Len())
	}

	// An established connection is served in the next cycle, before the
	// listener is revisited.
	h.poller.Deliver(api.Event{Token: 1, Readable: true})
	if _, err := h.srv.Poll(0); err != nil {
		t.Fatal(err)
	}
	h.wantState(t, 1, websocket.StateHandshakeResponse)
	if h.srv.Len() != 32 {
		t.Fatalf("second poll: Len = %d, want 32", h.srv.Len())
	}
}

func TestAbortedAcceptContinuesBatch(t *testing.T) {
	for _, errno := range []syscall.Errno{syscall.ECONNABORTED, syscall.EPROTO, syscall.EPERM} {
		t.Run(errno.Error(), func(t *testing.T) {
			h := newHarness(t, nil)
			h.listener.Fail(fmt.Errorf("%w: %w", api.ErrAccept, errno))
			h.listener.Queue(fake.NewSocket(10), fake.NewSocket(11))
			h.ready(t, api.ListenToken, true, false)
			if h.srv.Len() != 2 {
				t.Fatalf("Len = %d, want 2", h.srv.Len())
			}
		})
	}
}

func TestExhaustedAcceptRevisitsListener(t *testing.T) {
	h := newHarness(t, nil)
	h.listener.Fail(fmt.Errorf("%w: %w", api.ErrAccept, syscall.EMFILE))
	h.listener.Queue(fake.NewSocket(10))
	h.ready(t, api.ListenToken, true, false)
	if h.srv.Len() != 0 {
		t.Fatalf("Len = %d after EMFILE", h.srv.Len())
	}
	if _, err := h.srv.Poll(time.Second); err != nil {
		t.Fatal(err)
	}
	if h.srv.Len() != 1 {
		t.Fatalf("listener not revisited: Len = %d", h.srv.Len())
	}
	if got := h.poller.Timeouts; len(got) != 1 || got[0] != 0 {
		t.Errorf("wait timeouts = %v, want [0]", got)
	}
}

func TestReadableBeforeWritable(t *testing.T) {
	h := newHarness(t, nil)
	sock := fake.NewSocket(10, fake.Chunk(upgradeRequest(key1)))
	h.listener.Queue(sock)
	h.ready(t, api.ListenToken, true, false)

	h.ready(t, 1, true, true)
	if got := sock.Written(); got != upgradeResponse(accept1) {
		t.Fatalf("response %q", got)
	}
	h.wantState(t, 1, websocket.StateConnected)
	h.wantArmed(t, 1, api.InterestReadable)
}

func TestPollReturnsFatalError(t *testing.T) {
	h := newHarness(t, nil)
	h.poller.Deliver(api.Event{Token: 7, Readable: true})
	if _, err := h.srv.Poll(0); !errors.Is(err, api.ErrUnknownToken) {
		t.Fatalf("Poll = %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.srv.Run(ctx); err != nil {
		t.Fatalf("Run = %v", err)
	}
}

func TestRunReturnsFatalError(t *testing.T) {
	h := newHarness(t, nil)
	h.poller.Deliver(api.Event{Token: 5, Writable: true})
	err := h.srv.Run(context.Background())
	if !errors.Is(err, api.ErrUnknownToken) {
		t.Fatalf("Run = %v", err)
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	h := newHarness(t, nil)
	sock := fake.NewSocket(10)
	h.listener.Queue(sock)
	h.ready(t, api.ListenToken, true, false)
	if err := h.srv.Close(); err != nil {
		t.Fatal(err)
	}
	if !sock.Closed() || !h.listener.Closed() || h.srv.Len() != 0 {
		t.Fatalf("sock=%v listener=%v Len=%d", sock.Closed(), h.listener.Closed(), h.srv.Len())
	}
}

func TestConfigDefaults(t *testing.T) {
	got := Config{AcceptBatch: 4, PollTimeout: -time.Second}.withDefaults()
	want := *DefaultConfig()
	want.AcceptBatch = 4
	want.AcceptBurst = 1
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
}
