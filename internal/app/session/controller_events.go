package session

import (
	"fmt"

	"github.com/dkeye/VoiceCall/internal/app/notify"
	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
)

func (c *Controller) handleTransportEvent(ev core.Event) {
	switch ev.Kind {
	case core.EventJoinSucceeded:
		c.onJoinSucceeded(ev)
	case core.EventLeaveCompleted:
		c.onLeaveCompleted()
	case core.EventParticipantJoined:
		c.onParticipantJoined(ev)
	case core.EventParticipantLeft:
		c.onParticipantLeft(ev)
	case core.EventConnectionStateChanged:
		c.onConnectionState(ev)
	case core.EventTokenExpiringSoon:
		c.onTokenExpiringSoon()
	case core.EventError:
		c.onTransportError(ev)
	case core.EventLocalAudioChanged:
		c.onLocalAudio(ev.Flag)
	case core.EventLocalVideoChanged:
		c.onLocalVideo(ev.Flag)
	default:
		c.logger.Warn().Int("kind", int(ev.Kind)).Msg("unknown transport event")
	}
}

func (c *Controller) tracking() bool {
	switch c.state() {
	case domain.StateJoining, domain.StateActive, domain.StateReconnecting:
		return true
	}
	return false
}

func (c *Controller) onParticipantJoined(ev core.Event) {
	if !c.tracking() || ev.Participant == c.sess.LocalID {
		c.stale("transport", c.logger.Debug().Str("event", ev.Kind.String()).Str("uid", string(ev.Participant)))
		return
	}
	isNew := c.presence.OnParticipantJoined(ev.Participant)
	if c.autoLeave.OnJoined(isNew) {
		c.timers.cancel(timerAutoLeave)
		c.logger.Info().Str("sid", string(c.sess.ID)).Str("uid", string(ev.Participant)).Msg("auto-leave cancelled")
	}
	if isNew {
		c.logger.Info().Str("sid", string(c.sess.ID)).Str("uid", string(ev.Participant)).Int("count", c.presence.Count()).Msg("participant joined")
		c.publish()
	}
}

func (c *Controller) onParticipantLeft(ev core.Event) {
	if !c.tracking() {
		c.stale("transport", c.logger.Debug().Str("event", ev.Kind.String()).Str("uid", string(ev.Participant)))
		return
	}
	before := c.presence.Count()
	count := c.presence.OnParticipantLeft(ev.Participant)
	if count == before {
		return
	}
	c.logger.Info().
		Str("sid", string(c.sess.ID)).
		Str("uid", string(ev.Participant)).
		Str("reason", ev.Reason).
		Int("count", count).
		Msg("participant left")
	if c.autoLeave.OnCount(count, c.state() == domain.StateActive) {
		c.timers.arm(timerAutoLeave, c.gen, c.autoLeave.Grace(), 0)
		c.logger.Info().Str("sid", string(c.sess.ID)).Dur("grace", c.autoLeave.Grace()).Msg("channel empty, auto-leave scheduled")
	}
	c.publish()
}

func (c *Controller) onConnectionState(ev core.Event) {
	switch c.state() {
	case domain.StateActive:
		if ev.Conn.Lost() {
			c.enterReconnecting(ev.Conn.String() + ": " + ev.Reason)
		}
	case domain.StateReconnecting:
		switch {
		case ev.Conn == core.ConnConnected:
			c.logger.Info().Str("sid", string(c.sess.ID)).Msg("connection restored")
			c.resume()
		case ev.Conn == core.ConnFailed && c.attemptPending:
			c.attemptFailed(fmt.Errorf("connection %s: %s", ev.Conn, ev.Reason))
		}
	case domain.StateJoining:
		if ev.Conn == core.ConnFailed {
			c.joinFailed(fmt.Errorf("connection failed: %s", ev.Reason))
		}
	default:
		c.logger.Debug().Str("conn", ev.Conn.String()).Str("state", c.state().String()).Msg("connection state ignored")
	}
}

func (c *Controller) onTokenExpiringSoon() {
	switch c.state() {
	case domain.StateJoining, domain.StateActive:
		c.media.MarkCredentialExpiring()
		c.logger.Warn().Str("sid", string(c.sess.ID)).Msg("credential expiring soon")
		c.notify(notify.CredentialExpiringSoon, nil)
		c.publish()
	case domain.StateReconnecting:
		c.media.MarkCredentialExpiring()
		c.failCredential()
	default:
		c.stale("transport", c.logger.Debug().Str("event", core.EventTokenExpiringSoon.String()))
	}
}

func (c *Controller) onTransportError(ev core.Event) {
	err := fmt.Errorf("transport error %d: %s", ev.Code, ev.Reason)
	if ev.Code.CredentialRelated() {
		err = fmt.Errorf("%w: %w", domain.ErrCredentialExpired, err)
	}

	switch c.state() {
	case domain.StateJoining:
		c.joinFailed(err)
	case domain.StateReconnecting:
		if ev.Code.CredentialRelated() {
			c.media.MarkCredentialExpiring()
			c.failCredential()
			return
		}
		if c.attemptPending {
			c.attemptFailed(err)
			return
		}
		c.lastErr = err
		c.logger.Warn().Err(err).Msg("transport error while reconnecting")
	case domain.StateActive:
		c.lastErr = err
		if ev.Code.CredentialRelated() {
			c.media.MarkCredentialExpiring()
			c.logger.Error().Err(err).Str("sid", string(c.sess.ID)).Msg("credential rejected, leaving")
			c.notify(notify.CredentialExpired, err)
			c.beginLeave("credential")
			return
		}
		c.logger.Warn().Err(err).Str("sid", string(c.sess.ID)).Msg("transport error")
		c.publish()
	default:
		c.stale("transport", c.logger.Debug().Err(err).Str("event", ev.Kind.String()))
	}
}

func (c *Controller) joinFailed(cause error) {
	err := fmt.Errorf("%w: %w", domain.ErrJoinFailed, cause)
	c.lastErr = err
	c.logger.Warn().Err(err).Str("sid", string(c.sess.ID)).Msg("join failed")
	c.teardown(true, note(notify.JoinFailed, err))
}

func (c *Controller) handleTimer(ev timerFired) {
	if !c.timers.take(ev, c.gen) {
		c.stale("timer", c.logger.Debug().Str("timer", ev.kind.String()).Uint64("timer_gen", ev.gen))
		return
	}
	switch ev.kind {
	case timerJoin:
		c.onJoinTimeout()
	case timerLeave:
		c.onLeaveTimeout()
	case timerHeartbeat:
		c.onHeartbeat(ev.token)
	case timerAutoLeave:
		c.onAutoLeave()
	case timerReconnect:
		c.runAttempt()
	case timerAttempt:
		if c.state() == domain.StateReconnecting && c.attemptPending {
			c.attemptFailed(fmt.Errorf("rejoin not confirmed within %s", c.cfg.ReconnectAttemptTimeout))
		}
	case timerBudget:
		switch c.state() {
		case domain.StateActive, domain.StateReconnecting:
			c.budgetExhausted()
		}
	}
}
