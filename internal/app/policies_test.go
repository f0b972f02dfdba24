package app

import (
	"math/rand"
	"testing"
	"time"

	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceCountNeverNegative(t *testing.T) {
	p := NewPresenceTracker(nil)
	ids := []domain.ParticipantID{"a", "b", "c", "d"}
	expected := map[domain.ParticipantID]bool{}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		id := ids[rng.Intn(len(ids))]
		if rng.Intn(2) == 0 {
			isNew := p.OnParticipantJoined(id)
			assert.Equal(t, !expected[id], isNew)
			expected[id] = true
		} else {
			delete(expected, id)
			assert.Equal(t, len(expected), p.OnParticipantLeft(id))
		}
		require.GreaterOrEqual(t, p.Count(), 0)
		require.Equal(t, len(expected), p.Count())
		require.Len(t, p.Snapshot(), p.Count())
	}

	p.Reset()
	assert.Equal(t, 0, p.Count())
	assert.Equal(t, 0, p.OnParticipantLeft("a"))
}

func TestPresenceSnapshotOrder(t *testing.T) {
	now := time.Unix(100, 0)
	p := NewPresenceTracker(func() time.Time { return now })
	p.OnParticipantJoined("z")
	now = now.Add(time.Second)
	p.OnParticipantJoined("a")

	snap := p.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, domain.ParticipantID("z"), snap[0].ID)
	assert.True(t, snap[0].Active)
	assert.Equal(t, time.Unix(100, 0), snap[0].JoinedAt)
}

func TestReconnectionPolicyFixedDelay(t *testing.T) {
	p := NewReconnectionPolicy(ReconnectConfig{})
	p.Begin()
	for i := 1; i <= DefaultReconnectMaxAttempts; i++ {
		d := p.Next(false)
		require.Equal(t, RetryAfter, d.Action)
		assert.Equal(t, DefaultReconnectDelay, d.Delay)
		assert.Equal(t, i, d.Attempt)
	}
	assert.Equal(t, GiveUp, p.Next(false).Action)
	assert.Equal(t, DefaultReconnectMaxAttempts, p.Attempts())

	p.Begin()
	assert.Equal(t, 0, p.Attempts())
	assert.Equal(t, RetryAfter, p.Next(false).Action)
}

func TestReconnectionPolicyCredentialShortCircuits(t *testing.T) {
	p := NewReconnectionPolicy(ReconnectConfig{MaxAttempts: 2})
	p.Begin()
	d := p.Next(true)
	assert.Equal(t, FailCredential, d.Action)
	assert.Equal(t, 0, p.Attempts())

	assert.Equal(t, RetryAfter, p.Next(false).Action)
	assert.Equal(t, RetryAfter, p.Next(false).Action)
	assert.Equal(t, GiveUp, p.Next(false).Action)
}

func TestReconnectionPolicyExponential(t *testing.T) {
	p := NewReconnectionPolicy(ReconnectConfig{
		Delay:       time.Second,
		MaxAttempts: 4,
		Multiplier:  2,
		MaxDelay:    3 * time.Second,
	})
	p.Begin()
	var delays []time.Duration
	for {
		d := p.Next(false)
		if d.Action != RetryAfter {
			break
		}
		delays = append(delays, d.Delay)
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, delays)
}

func TestKeepAliveTokenInvalidatedByStop(t *testing.T) {
	k := NewKeepAliveScheduler(0)
	assert.Equal(t, DefaultHeartbeatInterval, k.Interval())
	assert.False(t, k.Stop())

	tok := k.Start()
	assert.True(t, k.Tick(tok))
	assert.True(t, k.Stop())
	assert.False(t, k.Stop())
	assert.False(t, k.Tick(tok))

	next := k.Start()
	assert.NotEqual(t, tok, next)
	assert.False(t, k.Tick(tok))
	assert.True(t, k.Tick(next))
	assert.Equal(t, uint64(2), k.Ticks())
}

func TestAutoLeaveSchedulesOnce(t *testing.T) {
	a := NewAutoLeavePolicy(0)
	assert.Equal(t, DefaultAutoLeaveGrace, a.Grace())

	// nobody has been here yet
	assert.False(t, a.OnCount(0, true))

	a.OnJoined(true)
	assert.False(t, a.OnCount(1, true))
	assert.False(t, a.OnCount(0, false))
	assert.True(t, a.OnCount(0, true))
	assert.False(t, a.OnCount(0, true))
	assert.True(t, a.Pending())

	assert.False(t, a.OnJoined(false))
	assert.True(t, a.OnJoined(true))
	assert.False(t, a.Pending())
	assert.False(t, a.Fire(0))

	assert.True(t, a.OnCount(0, true))
	assert.True(t, a.Fire(0))
	assert.False(t, a.Fire(0))

	assert.True(t, a.OnCount(0, true))
	assert.False(t, a.Fire(1))

	a.Reset()
	assert.False(t, a.OnCount(0, true))
}

func TestMuteReconcilerDesiredWins(t *testing.T) {
	m := NewMuteReconciler()
	m.Begin(domain.InitialMedia{AudioMuted: true})
	assert.Equal(t, domain.InitialMedia{AudioMuted: true}, m.JoinOptions())

	m.Joined(m.JoinOptions())
	st := m.State()
	assert.True(t, st.AckAudioMuted)
	assert.False(t, m.AudioDrift())

	m.SetDesiredAudio(false)
	m.AudioRequested(false)
	assert.False(t, m.AudioDrift())
	assert.True(t, m.AckAudio(true))
	assert.True(t, m.AudioDrift())
	assert.False(t, m.State().DesiredAudioMuted)

	m.AudioRequested(false)
	assert.False(t, m.AckAudio(false))
	assert.False(t, m.AudioDrift())
}

func TestMuteReconcilerVideoAndCredentialFlag(t *testing.T) {
	m := NewMuteReconciler()
	m.Begin(domain.InitialMedia{})
	m.Joined(m.JoinOptions())

	m.SetDesiredVideo(true)
	m.VideoRequested(true)
	assert.False(t, m.AckVideo(true))
	assert.True(t, m.State().AckVideoEnabled)

	// unsolicited change away from desired
	assert.True(t, m.AckVideo(false))

	m.MarkCredentialExpiring()
	assert.True(t, m.CredentialExpiring())
	m.ClearCredentialExpiring()
	assert.False(t, m.CredentialExpiring())

	m.MarkCredentialExpiring()
	m.Reset()
	assert.False(t, m.CredentialExpiring())
	assert.Equal(t, domain.MediaState{}, m.State())
}

type fakeSub struct {
	id     uint64
	missed int
}

func (f fakeSub) ID() uint64  { return f.id }
func (f fakeSub) Missed() int { return f.missed }

func TestBackpressurePolicies(t *testing.T) {
	assert.Equal(t, DropObserver, SimplePolicy{}.OnBackPressure(fakeSub{id: 1}))

	p := TolerantPolicy{Limit: 3}
	assert.Equal(t, DropNotification, p.OnBackPressure(fakeSub{id: 1, missed: 2}))
	assert.Equal(t, DropObserver, p.OnBackPressure(fakeSub{id: 1, missed: 3}))
}
