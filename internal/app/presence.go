package app

import (
	"sort"
	"time"

	"github.com/dkeye/VoiceCall/internal/domain"
)

// PresenceTracker is the set of remote participants in the current session.
// It is not safe for concurrent use: the session controller is its only
// owner.
type PresenceTracker struct {
	now     func() time.Time
	members map[domain.ParticipantID]*domain.RemoteParticipant
}

func NewPresenceTracker(now func() time.Time) *PresenceTracker {
	if now == nil {
		now = time.Now
	}
	return &PresenceTracker{
		now:     now,
		members: make(map[domain.ParticipantID]*domain.RemoteParticipant),
	}
}

// OnParticipantJoined inserts id and reports whether it was not already present.
func (p *PresenceTracker) OnParticipantJoined(id domain.ParticipantID) bool {
	if m, ok := p.members[id]; ok && m.Active {
		return false
	}
	p.members[id] = &domain.RemoteParticipant{ID: id, JoinedAt: p.now(), Active: true}
	return true
}

// OnParticipantLeft removes id if present and returns the remaining count.
// Unknown ids are ignored.
func (p *PresenceTracker) OnParticipantLeft(id domain.ParticipantID) int {
	if m, ok := p.members[id]; ok {
		m.Active = false
		delete(p.members, id)
	}
	return len(p.members)
}

func (p *PresenceTracker) Count() int {
	return len(p.members)
}

// Snapshot returns copies ordered by join time.
func (p *PresenceTracker) Snapshot() []domain.RemoteParticipant {
	out := make([]domain.RemoteParticipant, 0, len(p.members))
	for _, m := range p.members {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

func (p *PresenceTracker) Reset() {
	clear(p.members)
}
