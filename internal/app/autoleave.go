package app

import "time"

const DefaultAutoLeaveGrace = 2 * time.Second

// AutoLeavePolicy ends a session that has been left empty by remote
// participants, after a grace period that tolerates a quick rejoin.
type AutoLeavePolicy struct {
	grace   time.Duration
	pending bool
	// seen is set once a remote participant was present; an empty channel
	// that nobody has joined yet is a caller waiting, not an abandoned call.
	seen bool
}

func NewAutoLeavePolicy(grace time.Duration) *AutoLeavePolicy {
	if grace <= 0 {
		grace = DefaultAutoLeaveGrace
	}
	return &AutoLeavePolicy{grace: grace}
}

func (a *AutoLeavePolicy) Grace() time.Duration {
	return a.grace
}

// OnJoined reports whether a pending auto-leave must be cancelled.
func (a *AutoLeavePolicy) OnJoined(isNew bool) bool {
	a.seen = true
	if isNew && a.pending {
		a.pending = false
		return true
	}
	return false
}

// OnCount reports whether an auto-leave must be scheduled for the given
// participant count. At most one is pending at a time.
func (a *AutoLeavePolicy) OnCount(count int, active bool) bool {
	if !active || count > 0 || !a.seen || a.pending {
		return false
	}
	a.pending = true
	return true
}

// Fire reports whether the grace period elapsed with the leave still due.
func (a *AutoLeavePolicy) Fire(count int) bool {
	if !a.pending {
		return false
	}
	a.pending = false
	return count == 0
}

// Cancel drops a pending auto-leave and reports whether there was one.
func (a *AutoLeavePolicy) Cancel() bool {
	was := a.pending
	a.pending = false
	return was
}

func (a *AutoLeavePolicy) Pending() bool {
	return a.pending
}

func (a *AutoLeavePolicy) Reset() {
	a.pending = false
	a.seen = false
}
