package app

import "github.com/dkeye/VoiceCall/internal/domain"

// MuteReconciler keeps desired local media state apart from what the
// transport acknowledged. Desired is always the source of truth; Ack only
// moves on transport confirmation.
//
// It also carries the session-level "credential expiring" flag, which gates
// reconnection.
type MuteReconciler struct {
	state domain.MediaState

	// outstanding requests, oldest first
	audioReq []bool
	videoReq []bool

	credentialExpiring bool
}

func NewMuteReconciler() *MuteReconciler {
	return &MuteReconciler{}
}

// Begin seeds desired state for a new session. Ack mirrors the join options
// until the transport says otherwise.
func (m *MuteReconciler) Begin(initial domain.InitialMedia) {
	m.state = domain.MediaState{
		DesiredAudioMuted:   initial.AudioMuted,
		DesiredVideoEnabled: initial.VideoEnabled,
	}
	m.audioReq = m.audioReq[:0]
	m.videoReq = m.videoReq[:0]
	m.credentialExpiring = false
}

func (m *MuteReconciler) State() domain.MediaState {
	return m.state
}

// JoinOptions is the media state to request on (re)join: desired, never ack.
func (m *MuteReconciler) JoinOptions() domain.InitialMedia {
	return domain.InitialMedia{
		AudioMuted:   m.state.DesiredAudioMuted,
		VideoEnabled: m.state.DesiredVideoEnabled,
	}
}

// Joined records that the transport accepted a join issued with opts.
// Requests issued before the rejoin are void.
func (m *MuteReconciler) Joined(opts domain.InitialMedia) {
	m.state.AckAudioMuted = opts.AudioMuted
	m.state.AckVideoEnabled = opts.VideoEnabled
	m.audioReq = m.audioReq[:0]
	m.videoReq = m.videoReq[:0]
}

func (m *MuteReconciler) SetDesiredAudio(muted bool) {
	m.state.DesiredAudioMuted = muted
}

func (m *MuteReconciler) SetDesiredVideo(enabled bool) {
	m.state.DesiredVideoEnabled = enabled
}

// AudioRequested records a transport call carrying muted. A call that
// re-asserts the acknowledged value with nothing in flight expects no
// confirmation and is not tracked.
func (m *MuteReconciler) AudioRequested(muted bool) {
	if len(m.audioReq) == 0 && muted == m.state.AckAudioMuted {
		return
	}
	m.audioReq = append(m.audioReq, muted)
}

func (m *MuteReconciler) VideoRequested(enabled bool) {
	if len(m.videoReq) == 0 && enabled == m.state.AckVideoEnabled {
		return
	}
	m.videoReq = append(m.videoReq, enabled)
}

// AckAudio applies a transport confirmation and reports whether it
// conflicts with the desired state.
func (m *MuteReconciler) AckAudio(muted bool) bool {
	m.state.AckAudioMuted = muted
	var conflict bool
	m.audioReq, conflict = settle(m.audioReq, muted, m.state.DesiredAudioMuted)
	return conflict
}

func (m *MuteReconciler) AckVideo(enabled bool) bool {
	m.state.AckVideoEnabled = enabled
	var conflict bool
	m.videoReq, conflict = settle(m.videoReq, enabled, m.state.DesiredVideoEnabled)
	return conflict
}

// settle matches an ack against outstanding requests. An ack equal to one of
// them answers that request (and any older one); otherwise it conflicts when
// it differs from desired.
func settle(pending []bool, got, desired bool) ([]bool, bool) {
	for i, v := range pending {
		if v == got {
			rest := pending[i+1:]
			if len(rest) == 0 {
				return pending[:0], got != desired
			}
			return append(pending[:0], rest...), false
		}
	}
	return pending[:0], got != desired
}

// AudioDrift reports whether desired audio must be re-applied.
func (m *MuteReconciler) AudioDrift() bool {
	return len(m.audioReq) == 0 && m.state.AckAudioMuted != m.state.DesiredAudioMuted
}

func (m *MuteReconciler) VideoDrift() bool {
	return len(m.videoReq) == 0 && m.state.AckVideoEnabled != m.state.DesiredVideoEnabled
}

func (m *MuteReconciler) MarkCredentialExpiring() {
	m.credentialExpiring = true
}

func (m *MuteReconciler) ClearCredentialExpiring() {
	m.credentialExpiring = false
}

func (m *MuteReconciler) CredentialExpiring() bool {
	return m.credentialExpiring
}

func (m *MuteReconciler) Reset() {
	m.Begin(domain.InitialMedia{})
}
