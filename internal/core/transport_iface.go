package core

import (
	"context"

	"github.com/dkeye/VoiceCall/internal/domain"
)

// JoinParams is everything the transport needs to enter a channel.
type JoinParams struct {
	Channel domain.ChannelName
	Token   string
	LocalID domain.ParticipantID
	Media   domain.InitialMedia
}

// Transport is the narrow contract the session controller holds on the
// real-time engine. Only the controller calls it.
//
// Join and Leave must not block on the network: they dispatch the work and
// report the outcome through EventHandler (JoinSucceeded, LeaveCompleted,
// Error). A returned error means the call could not be issued at all.
type Transport interface {
	Join(ctx context.Context, p JoinParams) error
	Leave(ctx context.Context) error
	// MuteLocalAudio and EnableLocalVideo are best-effort; the resulting
	// state is acknowledged with LocalAudioChanged / LocalVideoChanged.
	MuteLocalAudio(muted bool) error
	EnableLocalVideo(enabled bool) error
	// KeepAlive is an idempotent call that keeps the connection warm.
	KeepAlive() error
	RenewToken(token string) error
	// SetEventHandler registers the sink for engine callbacks. Callbacks may
	// arrive on any goroutine.
	SetEventHandler(h EventHandler)
	// Close releases engine resources. Versioned shutdown differences are
	// resolved inside the implementation.
	Close() error
}

// EventHandler receives raw engine callbacks.
type EventHandler interface {
	OnParticipantJoined(id domain.ParticipantID)
	OnParticipantLeft(id domain.ParticipantID, reason string)
	OnConnectionStateChanged(state ConnectionState, reason string)
	OnJoinSucceeded(channel domain.ChannelName, localID domain.ParticipantID)
	OnLeaveCompleted()
	OnTokenExpiringSoon()
	OnError(code ErrorCode, msg string)
	OnLocalAudioChanged(muted bool)
	OnLocalVideoChanged(enabled bool)
}
