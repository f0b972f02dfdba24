package session

import (
	"fmt"

	"github.com/dkeye/VoiceCall/internal/app/notify"
	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
)

func (c *Controller) requestJoin(req JoinRequest) (domain.SessionID, error) {
	if c.sess != nil {
		c.logger.Warn().Str("sid", string(c.sess.ID)).Str("state", c.sess.State.String()).Msg("join rejected, session in progress")
		return "", domain.ErrAlreadyInSession
	}
	if err := domain.ValidateChannel(req.Channel); err != nil {
		return "", err
	}
	if err := domain.ValidateParticipant(req.LocalID); err != nil {
		return "", err
	}
	if req.Kind == nil {
		req.Kind = domain.HumanCall{}
	}

	now := c.sched.Now()
	if !req.TokenExpiresAt.IsZero() && !now.Before(req.TokenExpiresAt) {
		return "", fmt.Errorf("join %s: %w", req.Channel, domain.ErrCredentialExpired)
	}

	c.gen++
	c.lastErr = nil
	c.sess = &domain.Session{
		ID:             domain.NewSessionID(),
		Channel:        req.Channel,
		LocalID:        req.LocalID,
		Token:          req.Token,
		TokenExpiresAt: req.TokenExpiresAt,
		Kind:           req.Kind,
		State:          domain.StateIdle,
		CreatedAt:      now,
	}
	c.presence.Reset()
	c.autoLeave.Reset()
	c.reconnect.Begin()
	c.media.Begin(req.Media)
	c.setState(domain.StateJoining)

	c.joinOpts = c.media.JoinOptions()
	err := c.transport.Join(c.runCtx, core.JoinParams{
		Channel: c.sess.Channel,
		Token:   c.sess.Token,
		LocalID: c.sess.LocalID,
		Media:   c.joinOpts,
	})
	if err != nil {
		id := c.sess.ID
		err = fmt.Errorf("%w: %w", domain.ErrJoinFailed, err)
		c.lastErr = err
		c.teardown(false, note(notify.JoinFailed, err))
		return id, err
	}
	c.timers.arm(timerJoin, c.gen, c.cfg.JoinTimeout, 0)
	c.publish()
	return c.sess.ID, nil
}

func (c *Controller) onJoinSucceeded(ev core.Event) {
	if c.sess == nil {
		c.stale("transport", c.logger.Debug().Str("event", ev.Kind.String()))
		return
	}
	if ev.Channel != c.sess.Channel || (ev.Participant != "" && ev.Participant != c.sess.LocalID) {
		c.stale("transport", c.logger.Info().
			Str("event", ev.Kind.String()).
			Str("channel", string(ev.Channel)).
			Str("expected", string(c.sess.Channel)).
			Str("uid", string(ev.Participant)))
		return
	}

	switch c.sess.State {
	case domain.StateJoining:
		c.timers.cancel(timerJoin)
		c.media.Joined(c.joinOpts)
		c.enterActive()
	case domain.StateReconnecting:
		if !c.attemptPending {
			c.stale("transport", c.logger.Debug().Str("event", ev.Kind.String()))
			return
		}
		c.attemptPending = false
		c.timers.cancel(timerAttempt)
		c.timers.cancel(timerReconnect)
		c.media.Joined(c.joinOpts)
		c.enterActive()
	default:
		c.stale("transport", c.logger.Debug().Str("event", ev.Kind.String()))
	}
}

// enterActive starts everything an active session runs: desired media is
// (re)applied, the retry counter resets, the heartbeat and budget timers are
// armed.
func (c *Controller) enterActive() {
	c.setState(domain.StateActive)
	c.reconnect.Begin()
	c.applyDesiredMedia(true)

	token := c.keepAlive.Start()
	c.timers.arm(timerHeartbeat, c.gen, c.keepAlive.Interval(), token)

	now := c.sched.Now()
	if c.sess.ActivatedAt.IsZero() {
		c.sess.ActivatedAt = now
	}
	if budget := c.sess.Kind.Budget(); budget > 0 {
		remaining := c.sess.ActivatedAt.Add(budget).Sub(now)
		if remaining <= 0 {
			c.budgetExhausted()
			return
		}
		c.timers.arm(timerBudget, c.gen, remaining, 0)
	}

	if c.autoLeave.OnCount(c.presence.Count(), true) {
		c.timers.arm(timerAutoLeave, c.gen, c.autoLeave.Grace(), 0)
	}
	c.publish()
}

func (c *Controller) onJoinTimeout() {
	if c.state() != domain.StateJoining {
		return
	}
	err := fmt.Errorf("%w: no confirmation within %s", domain.ErrJoinFailed, c.cfg.JoinTimeout)
	c.lastErr = err
	c.teardown(true, note(notify.JoinFailed, err))
}

func (c *Controller) budgetExhausted() {
	err := fmt.Errorf("%w after %s", domain.ErrBudgetExhausted, c.sess.Kind.Budget())
	c.lastErr = err
	c.notify(notify.BudgetExhausted, err)
	c.beginLeave("budget")
}
