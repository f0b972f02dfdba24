package app

import "time"

const DefaultHeartbeatInterval = 15 * time.Second

// KeepAliveScheduler tracks the heartbeat of an active session. Each Start
// hands out a token; a tick is honoured only while its token is current, so
// a tick that raced with Stop is recognised and dropped.
type KeepAliveScheduler struct {
	interval time.Duration
	token    uint64
	running  bool
	ticks    uint64
}

func NewKeepAliveScheduler(interval time.Duration) *KeepAliveScheduler {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &KeepAliveScheduler{interval: interval}
}

func (k *KeepAliveScheduler) Interval() time.Duration {
	return k.interval
}

// Start returns the token the caller must present on every tick.
func (k *KeepAliveScheduler) Start() uint64 {
	k.token++
	k.running = true
	return k.token
}

// Stop cancels the current token. It reports whether a heartbeat was
// running, so callers cancel exactly once.
func (k *KeepAliveScheduler) Stop() bool {
	if !k.running {
		return false
	}
	k.running = false
	k.token++
	return true
}

// Tick reports whether a tick carrying token may run.
func (k *KeepAliveScheduler) Tick(token uint64) bool {
	if !k.running || token != k.token {
		return false
	}
	k.ticks++
	return true
}

func (k *KeepAliveScheduler) Running() bool {
	return k.running
}

func (k *KeepAliveScheduler) Ticks() uint64 {
	return k.ticks
}
