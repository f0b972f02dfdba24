package session

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/VoiceCall/internal/app/notify"
	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu       sync.Mutex
	handler  core.EventHandler
	joins    []core.JoinParams
	leaves   int
	audio    []bool
	video    []bool
	beats    int
	renewed  []string
	joinErr  error
	leaveErr error
}

var _ core.Transport = (*fakeTransport)(nil)

func (f *fakeTransport) Join(_ context.Context, p core.JoinParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, p)
	return f.joinErr
}

func (f *fakeTransport) Leave(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves++
	return f.leaveErr
}

func (f *fakeTransport) MuteLocalAudio(muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, muted)
	return nil
}

func (f *fakeTransport) EnableLocalVideo(enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.video = append(f.video, enabled)
	return nil
}

func (f *fakeTransport) KeepAlive() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beats++
	return nil
}

func (f *fakeTransport) RenewToken(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renewed = append(f.renewed, token)
	return nil
}

func (f *fakeTransport) SetEventHandler(h core.EventHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) setJoinErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinErr = err
}

func (f *fakeTransport) joinCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.joins)
}

func (f *fakeTransport) lastJoin() core.JoinParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joins[len(f.joins)-1]
}

func (f *fakeTransport) leaveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leaves
}

func (f *fakeTransport) beatCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.beats
}

func (f *fakeTransport) audioCalls() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.audio...)
}

type manualTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

// manualScheduler is a virtual clock. With leaky set, stop reports failure
// and the callback still runs, which is what a lost cancellation race looks
// like from the controller's side.
type manualScheduler struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
	leaky  bool
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (s *manualScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{at: s.now.Add(d), f: f}
	s.timers = append(s.timers, t)
	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if t.fired || s.leaky {
			return false
		}
		t.stopped = true
		return true
	}
}

// Advance moves the clock and runs every due callback in deadline order.
func (s *manualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	var due []*manualTimer
	for _, t := range s.timers {
		if !t.fired && !t.stopped && !t.at.After(s.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

func (s *manualScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

type harness struct {
	t     *testing.T
	tr    *fakeTransport
	clock *manualScheduler
	c     *Controller
	sub   *notify.Subscription
	seen  []notify.Notification
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		tr:    &fakeTransport{},
		clock: newManualScheduler(),
	}
	h.c = New(cfg, h.tr, WithScheduler(h.clock))
	h.sub = h.c.Subscribe(64)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.c.Done()
	})
	return h
}

func (h *harness) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	h.t.Cleanup(cancel)
	return ctx
}

// settle waits until the loop has handled everything queued so far.
func (h *harness) settle() {
	h.t.Helper()
	require.NoError(h.t, h.c.sync(h.ctx()))
}

func (h *harness) engine() core.EventHandler {
	h.tr.mu.Lock()
	defer h.tr.mu.Unlock()
	return h.tr.handler
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.settle()
}

func (h *harness) state() domain.State {
	return h.c.Notifier().Latest().State
}

func (h *harness) snapshot() notify.Snapshot {
	return h.c.Notifier().Latest()
}

// notes drains pending notifications and returns every kind seen so far.
func (h *harness) notes() []notify.Kind {
	for {
		select {
		case n, ok := <-h.sub.Notifications():
			if !ok {
				return h.kinds()
			}
			h.seen = append(h.seen, n)
		default:
			return h.kinds()
		}
	}
}

func (h *harness) kinds() []notify.Kind {
	out := make([]notify.Kind, 0, len(h.seen))
	for _, n := range h.seen {
		out = append(out, n.Kind)
	}
	return out
}

func (h *harness) last(kind notify.Kind) (notify.Notification, bool) {
	h.notes()
	for i := len(h.seen) - 1; i >= 0; i-- {
		if h.seen[i].Kind == kind {
			return h.seen[i], true
		}
	}
	return notify.Notification{}, false
}

func (h *harness) join(media domain.InitialMedia) domain.SessionID {
	h.t.Helper()
	id, err := h.c.RequestJoin(h.ctx(), JoinRequest{
		Channel: "ch1",
		Token:   "tok",
		LocalID: "42",
		Media:   media,
	})
	require.NoError(h.t, err)
	return id
}

// activate joins and confirms, leaving the session Active.
func (h *harness) activate(media domain.InitialMedia) domain.SessionID {
	h.t.Helper()
	id := h.join(media)
	h.engine().OnJoinSucceeded("ch1", "42")
	h.settle()
	require.Equal(h.t, domain.StateActive, h.state())
	return id
}
