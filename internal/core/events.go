package core

import (
	"time"

	"github.com/dkeye/VoiceCall/internal/domain"
)

type ConnectionState int

const (
	ConnDisconnected ConnectionState = iota
	ConnConnecting
	ConnConnected
	ConnReconnecting
	ConnFailed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnDisconnected:
		return "disconnected"
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnReconnecting:
		return "reconnecting"
	case ConnFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Lost reports whether the state means the media path is gone.
func (s ConnectionState) Lost() bool {
	return s == ConnDisconnected || s == ConnFailed
}

type ErrorCode int

const (
	ErrCodeGeneric ErrorCode = iota + 1
	ErrCodeJoinRejected
	ErrCodeTokenExpired
	ErrCodeInvalidToken
	ErrCodeNetwork
)

// CredentialRelated reports whether the code means the token is unusable.
func (c ErrorCode) CredentialRelated() bool {
	return c == ErrCodeTokenExpired || c == ErrCodeInvalidToken
}

type EventKind int

const (
	EventParticipantJoined EventKind = iota + 1
	EventParticipantLeft
	EventConnectionStateChanged
	EventJoinSucceeded
	EventLeaveCompleted
	EventTokenExpiringSoon
	EventError
	EventLocalAudioChanged
	EventLocalVideoChanged
)

func (k EventKind) String() string {
	switch k {
	case EventParticipantJoined:
		return "participant_joined"
	case EventParticipantLeft:
		return "participant_left"
	case EventConnectionStateChanged:
		return "connection_state_changed"
	case EventJoinSucceeded:
		return "join_succeeded"
	case EventLeaveCompleted:
		return "leave_completed"
	case EventTokenExpiringSoon:
		return "token_expiring_soon"
	case EventError:
		return "error"
	case EventLocalAudioChanged:
		return "local_audio_changed"
	case EventLocalVideoChanged:
		return "local_video_changed"
	default:
		return "unknown"
	}
}

// Event is a normalized transport callback. Only the fields relevant to Kind
// are set.
type Event struct {
	Kind        EventKind
	Participant domain.ParticipantID
	Channel     domain.ChannelName
	Conn        ConnectionState
	Reason      string
	Code        ErrorCode
	Flag        bool
	ReceivedAt  time.Time
}
