package notify

import (
	"errors"
	"sync"

	"github.com/dkeye/VoiceCall/internal/app"
	"github.com/dkeye/VoiceCall/internal/metrics"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("subscription closed")
)

const DefaultBuffer = 16

// Subscription is one observer. Snapshots are latest-wins; notifications
// are queued up to the buffer size.
type Subscription struct {
	id    uint64
	snaps chan Snapshot
	notes chan Notification

	mu     sync.RWMutex
	closed bool
	missed int

	n *Notifier
}

func (s *Subscription) ID() uint64 { return s.id }

func (s *Subscription) Missed() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.missed
}

func (s *Subscription) Snapshots() <-chan Snapshot { return s.snaps }

func (s *Subscription) Notifications() <-chan Notification { return s.notes }

// Close unsubscribes and closes both channels.
func (s *Subscription) Close() {
	if s.n != nil {
		s.n.remove(s.id)
	}
	s.close()
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.snaps)
	close(s.notes)
}

func (s *Subscription) pushSnapshot(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.snaps <- snap:
		return
	default:
	}
	// drop the stale one, keep the newest
	select {
	case <-s.snaps:
	default:
	}
	select {
	case s.snaps <- snap:
	default:
	}
}

func (s *Subscription) trySend(n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.notes <- n:
		return nil
	default:
		s.missed++
		return ErrBackpressure
	}
}

// PublishResult reports delivery stats/backpressure.
type PublishResult struct {
	SendTo  int
	Dropped []uint64
}

// Notifier fans session snapshots and notifications out to observers.
type Notifier struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	latest Snapshot
	policy app.Policy
}

func New(policy app.Policy) *Notifier {
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	return &Notifier{
		subs:   make(map[uint64]*Subscription),
		policy: policy,
	}
}

// Subscribe registers an observer; it receives the current snapshot first.
func (n *Notifier) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	n.mu.Lock()
	n.nextID++
	sub := &Subscription{
		id:    n.nextID,
		snaps: make(chan Snapshot, 1),
		notes: make(chan Notification, buffer),
		n:     n,
	}
	n.subs[sub.id] = sub
	// pushed under n.mu so a concurrent publish cannot be overtaken
	sub.pushSnapshot(n.latest)
	n.mu.Unlock()

	log.Debug().Str("module", "app.notify").Uint64("sub", sub.id).Msg("observer subscribed")
	return sub
}

func (n *Notifier) remove(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.subs[id]; ok {
		delete(n.subs, id)
		log.Debug().Str("module", "app.notify").Uint64("sub", id).Msg("observer removed")
	}
}

// Latest returns the last published snapshot.
func (n *Notifier) Latest() Snapshot {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.latest
}

func (n *Notifier) Subscribers() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

func (n *Notifier) snapshotSubs() []*Subscription {
	out := make([]*Subscription, 0, len(n.subs))
	for _, s := range n.subs {
		out = append(out, s)
	}
	return out
}

func (n *Notifier) PublishSnapshot(snap Snapshot) {
	n.mu.Lock()
	n.latest = snap
	subs := n.snapshotSubs()
	n.mu.Unlock()

	for _, s := range subs {
		s.pushSnapshot(snap)
	}
}

// Notify delivers a one-shot notification to every observer. Slow observers
// are handled by the back-pressure policy.
func (n *Notifier) Notify(note Notification) PublishResult {
	n.mu.RLock()
	subs := n.snapshotSubs()
	n.mu.RUnlock()

	metrics.Notifications.WithLabelValues(note.Kind.String()).Inc()

	res := PublishResult{}
	for _, s := range subs {
		if err := s.trySend(note); err != nil {
			if errors.Is(err, ErrClosed) {
				continue
			}
			switch n.policy.OnBackPressure(s) {
			case app.DropObserver:
				res.Dropped = append(res.Dropped, s.id)
			case app.DropNotification, app.NoAction:
			}
			continue
		}
		res.SendTo++
	}
	for _, id := range res.Dropped {
		n.mu.Lock()
		s, ok := n.subs[id]
		delete(n.subs, id)
		n.mu.Unlock()
		if ok {
			s.close()
			metrics.DroppedObservers.Inc()
			log.Warn().Str("module", "app.notify").Uint64("sub", id).Str("kind", note.Kind.String()).Msg("slow observer dropped")
		}
	}
	log.Debug().Str("module", "app.notify").Str("kind", note.Kind.String()).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("notify result")
	return res
}

// Close drops every observer.
func (n *Notifier) Close() {
	n.mu.Lock()
	subs := n.snapshotSubs()
	clear(n.subs)
	n.mu.Unlock()
	for _, s := range subs {
		s.close()
	}
}
