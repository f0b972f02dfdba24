package rtc

import (
	"context"
	"sync"

	"github.com/dkeye/VoiceCall/internal/core"
)

// Loopback is a transport with no network behind it: every request is
// confirmed at once, in call order. It backs local runs and demos without a
// signaling server.
type Loopback struct {
	mu      sync.Mutex
	handler core.EventHandler
	joined  *core.JoinParams
	closed  bool
	out     chan func()
}

var _ core.Transport = (*Loopback)(nil)

func NewLoopback() *Loopback {
	l := &Loopback{handler: nopHandler{}, out: make(chan func(), 64)}
	go func() {
		for f := range l.out {
			f()
		}
	}()
	return l
}

// emit must be called with l.mu held.
func (l *Loopback) emit(f func()) {
	if !l.closed {
		l.out <- f
	}
}

func (l *Loopback) SetEventHandler(h core.EventHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h == nil {
		h = nopHandler{}
	}
	l.handler = h
}

func (l *Loopback) Join(_ context.Context, p core.JoinParams) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrEngineClosed
	}
	l.joined = &p
	h := l.handler
	l.emit(func() { h.OnJoinSucceeded(p.Channel, p.LocalID) })
	l.mu.Unlock()
	return nil
}

func (l *Loopback) Leave(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.joined = nil
	h := l.handler
	l.emit(h.OnLeaveCompleted)
	return nil
}

func (l *Loopback) MuteLocalAudio(muted bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, err := l.liveLocked()
	if err != nil {
		return err
	}
	l.emit(func() { h.OnLocalAudioChanged(muted) })
	return nil
}

func (l *Loopback) EnableLocalVideo(enabled bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, err := l.liveLocked()
	if err != nil {
		return err
	}
	l.emit(func() { h.OnLocalVideoChanged(enabled) })
	return nil
}

func (l *Loopback) KeepAlive() error {
	_, err := l.live()
	return err
}

func (l *Loopback) RenewToken(string) error {
	_, err := l.live()
	return err
}

func (l *Loopback) live() (core.EventHandler, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.liveLocked()
}

func (l *Loopback) liveLocked() (core.EventHandler, error) {
	if l.closed {
		return nil, ErrEngineClosed
	}
	if l.joined == nil {
		return nil, ErrNotConnected
	}
	return l.handler, nil
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.joined = nil
	close(l.out)
	return nil
}
