package session

import (
	"time"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/rs/zerolog/log"
)

// Normalizer turns raw engine callbacks, which may arrive on any goroutine,
// into typed events on the controller queue. It never touches controller
// state.
type Normalizer struct {
	q   *eventQueue
	now func() time.Time
}

var _ core.EventHandler = (*Normalizer)(nil)

func (n *Normalizer) post(ev core.Event) {
	ev.ReceivedAt = n.now()
	if !n.q.push(ev) {
		log.Debug().Str("module", "app.session").Str("event", ev.Kind.String()).Msg("controller stopped, event dropped")
	}
}

func (n *Normalizer) OnParticipantJoined(id domain.ParticipantID) {
	n.post(core.Event{Kind: core.EventParticipantJoined, Participant: id})
}

func (n *Normalizer) OnParticipantLeft(id domain.ParticipantID, reason string) {
	n.post(core.Event{Kind: core.EventParticipantLeft, Participant: id, Reason: reason})
}

func (n *Normalizer) OnConnectionStateChanged(state core.ConnectionState, reason string) {
	n.post(core.Event{Kind: core.EventConnectionStateChanged, Conn: state, Reason: reason})
}

func (n *Normalizer) OnJoinSucceeded(channel domain.ChannelName, localID domain.ParticipantID) {
	n.post(core.Event{Kind: core.EventJoinSucceeded, Channel: channel, Participant: localID})
}

func (n *Normalizer) OnLeaveCompleted() {
	n.post(core.Event{Kind: core.EventLeaveCompleted})
}

func (n *Normalizer) OnTokenExpiringSoon() {
	n.post(core.Event{Kind: core.EventTokenExpiringSoon})
}

func (n *Normalizer) OnError(code core.ErrorCode, msg string) {
	n.post(core.Event{Kind: core.EventError, Code: code, Reason: msg})
}

func (n *Normalizer) OnLocalAudioChanged(muted bool) {
	n.post(core.Event{Kind: core.EventLocalAudioChanged, Flag: muted})
}

func (n *Normalizer) OnLocalVideoChanged(enabled bool) {
	n.post(core.Event{Kind: core.EventLocalVideoChanged, Flag: enabled})
}
