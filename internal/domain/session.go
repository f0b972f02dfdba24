// Package domain contains entity without logic, just meta-data
package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	MaxChannelNameLen = 64
	MaxParticipantLen = 64
)

type (
	SessionID     string
	ChannelName   string
	ParticipantID string
)

func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

// ValidateChannel keeps channel names within what the transport accepts.
func ValidateChannel(name ChannelName) error {
	if len(name) == 0 {
		return ErrChannelEmpty
	}
	if len(name) > MaxChannelNameLen {
		return ErrChannelTooLong
	}
	return nil
}

func ValidateParticipant(id ParticipantID) error {
	if len(id) == 0 {
		return ErrParticipantEmpty
	}
	if len(id) > MaxParticipantLen {
		return ErrParticipantTooLong
	}
	return nil
}

// MediaState is the local audio/video intent and the last values the
// transport confirmed. Ack may lag Desired.
type MediaState struct {
	DesiredAudioMuted   bool `json:"desired_audio_muted"`
	DesiredVideoEnabled bool `json:"desired_video_enabled"`
	AckAudioMuted       bool `json:"ack_audio_muted"`
	AckVideoEnabled     bool `json:"ack_video_enabled"`
}

// InitialMedia is what the caller asks for at join time.
type InitialMedia struct {
	AudioMuted   bool `json:"audio_muted"`
	VideoEnabled bool `json:"video_enabled"`
}

// Session is one real-time engagement from join request to teardown.
// Only the session controller mutates it.
type Session struct {
	ID      SessionID
	Channel ChannelName
	LocalID ParticipantID
	Token   string
	// TokenExpiresAt is zero when the credential carries no known expiry.
	TokenExpiresAt time.Time
	Kind           Kind
	State          State

	CreatedAt time.Time
	// ActivatedAt is set once, on the first transition to Active.
	ActivatedAt time.Time
}

// TokenExpired reports whether the credential is known to be expired at now.
func (s *Session) TokenExpired(now time.Time) bool {
	return !s.TokenExpiresAt.IsZero() && !now.Before(s.TokenExpiresAt)
}
