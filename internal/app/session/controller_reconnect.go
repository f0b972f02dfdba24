package session

import (
	"fmt"

	"github.com/dkeye/VoiceCall/internal/app"
	"github.com/dkeye/VoiceCall/internal/app/notify"
	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/metrics"
)

func (c *Controller) credentialExpired() bool {
	return c.media.CredentialExpiring() || c.sess.TokenExpired(c.sched.Now())
}

func (c *Controller) enterReconnecting(reason string) {
	c.timers.cancel(timerHeartbeat)
	c.keepAlive.Stop()
	if c.autoLeave.Cancel() {
		c.timers.cancel(timerAutoLeave)
	}

	c.logger.Warn().Str("sid", string(c.sess.ID)).Str("reason", reason).Msg("connection lost")
	c.setState(domain.StateReconnecting)
	c.reconnect.Begin()
	c.scheduleAttempt()
}

func (c *Controller) scheduleAttempt() {
	d := c.reconnect.Next(c.credentialExpired())
	switch d.Action {
	case app.RetryAfter:
		c.logger.Info().Str("sid", string(c.sess.ID)).Int("attempt", d.Attempt).Dur("delay", d.Delay).Msg("rejoin scheduled")
		c.timers.arm(timerReconnect, c.gen, d.Delay, 0)
		c.publish()
	case app.FailCredential:
		c.failCredential()
	case app.GiveUp:
		err := fmt.Errorf("%w after %d attempts", domain.ErrConnectionLost, d.Attempt)
		c.lastErr = err
		c.teardown(true, note(notify.ConnectionLost, err))
	}
}

func (c *Controller) failCredential() {
	err := fmt.Errorf("%w: rejoin not attempted", domain.ErrCredentialExpired)
	c.lastErr = err
	c.teardown(true, note(notify.CredentialExpired, err))
}

func (c *Controller) runAttempt() {
	if c.state() != domain.StateReconnecting {
		return
	}
	if c.credentialExpired() {
		c.failCredential()
		return
	}
	metrics.ReconnectAttempts.Inc()
	c.logger.Info().Str("sid", string(c.sess.ID)).Int("attempt", c.reconnect.Attempts()).Msg("rejoining")

	if err := c.transport.Leave(c.runCtx); err != nil {
		c.logger.Debug().Err(err).Msg("leave before rejoin failed, ignoring")
	}
	c.joinOpts = c.media.JoinOptions()
	err := c.transport.Join(c.runCtx, core.JoinParams{
		Channel: c.sess.Channel,
		Token:   c.sess.Token,
		LocalID: c.sess.LocalID,
		Media:   c.joinOpts,
	})
	if err != nil {
		c.attemptFailed(err)
		return
	}
	c.attemptPending = true
	c.timers.arm(timerAttempt, c.gen, c.cfg.ReconnectAttemptTimeout, 0)
}

// attemptFailed is absorbed: the policy decides whether another attempt is
// made, and only giving up is surfaced.
func (c *Controller) attemptFailed(err error) {
	c.attemptPending = false
	c.timers.cancel(timerAttempt)
	c.logger.Warn().Err(err).Str("sid", string(c.sess.ID)).Int("attempt", c.reconnect.Attempts()).Msg("rejoin attempt failed")
	c.scheduleAttempt()
}

// resume handles the transport recovering on its own.
func (c *Controller) resume() {
	c.attemptPending = false
	c.timers.cancel(timerAttempt)
	c.timers.cancel(timerReconnect)
	c.enterActive()
}
