package session

import "time"

type timerKind int

const (
	timerJoin timerKind = iota
	timerLeave
	timerHeartbeat
	timerAutoLeave
	timerReconnect
	timerAttempt
	timerBudget
)

func (k timerKind) String() string {
	switch k {
	case timerJoin:
		return "join_timeout"
	case timerLeave:
		return "leave_timeout"
	case timerHeartbeat:
		return "heartbeat"
	case timerAutoLeave:
		return "auto_leave"
	case timerReconnect:
		return "reconnect"
	case timerAttempt:
		return "reconnect_attempt_timeout"
	case timerBudget:
		return "budget"
	default:
		return "unknown"
	}
}

// timerFired is what a timer posts to the queue. It is honoured only if gen
// is still the controller generation and seq is still the armed instance of
// its kind.
type timerFired struct {
	kind  timerKind
	gen   uint64
	seq   uint64
	token uint64
}

type armedTimer struct {
	seq  uint64
	stop func() bool
}

// timerSet holds at most one outstanding timer per kind.
type timerSet struct {
	sched Scheduler
	post  func(any) bool
	seq   uint64
	armed map[timerKind]armedTimer
}

func newTimerSet(sched Scheduler, post func(any) bool) *timerSet {
	return &timerSet{
		sched: sched,
		post:  post,
		armed: make(map[timerKind]armedTimer),
	}
}

// arm replaces any outstanding timer of the same kind.
func (t *timerSet) arm(kind timerKind, gen uint64, d time.Duration, token uint64) {
	t.cancel(kind)
	t.seq++
	ev := timerFired{kind: kind, gen: gen, seq: t.seq, token: token}
	stop := t.sched.AfterFunc(d, func() { t.post(ev) })
	t.armed[kind] = armedTimer{seq: ev.seq, stop: stop}
}

func (t *timerSet) cancel(kind timerKind) bool {
	a, ok := t.armed[kind]
	if !ok {
		return false
	}
	delete(t.armed, kind)
	a.stop()
	return true
}

func (t *timerSet) cancelAll() {
	for kind := range t.armed {
		t.cancel(kind)
	}
}

func (t *timerSet) isArmed(kind timerKind) bool {
	_, ok := t.armed[kind]
	return ok
}

// take consumes a firing. A firing from a cancelled or replaced timer, or
// from an older generation, is rejected even if it was already queued.
func (t *timerSet) take(ev timerFired, gen uint64) bool {
	if ev.gen != gen {
		return false
	}
	a, ok := t.armed[ev.kind]
	if !ok || a.seq != ev.seq {
		return false
	}
	delete(t.armed, ev.kind)
	return true
}
