package session

import (
	"fmt"

	"github.com/dkeye/VoiceCall/internal/app/notify"
	"github.com/dkeye/VoiceCall/internal/domain"
)

func (c *Controller) requestLeave() error {
	switch c.state() {
	case domain.StateIdle, domain.StateClosed:
		return domain.ErrNotInSession
	case domain.StateLeaving:
		return nil
	}
	c.beginLeave("user")
	return nil
}

// beginLeave is shared by user leave, auto-leave and budget expiry.
func (c *Controller) beginLeave(cause string) {
	c.timers.cancelAll()
	c.keepAlive.Stop()
	c.autoLeave.Cancel()
	c.attemptPending = false

	c.logger.Info().Str("sid", string(c.sess.ID)).Str("cause", cause).Msg("leaving session")
	c.setState(domain.StateLeaving)

	if err := c.transport.Leave(c.runCtx); err != nil {
		// nothing will confirm a leave that was never issued
		c.logger.Warn().Err(err).Str("sid", string(c.sess.ID)).Msg("transport leave failed, clearing session")
		c.teardown(false, note(notify.SessionEnded, nil))
		return
	}
	c.timers.arm(timerLeave, c.gen, c.cfg.LeaveTimeout, 0)
	c.publish()
}

func (c *Controller) onLeaveCompleted() {
	switch c.state() {
	case domain.StateLeaving:
		c.timers.cancel(timerLeave)
		c.teardown(false, note(notify.SessionEnded, nil))
	case domain.StateReconnecting:
		// the leave half of a rejoin attempt
		c.logger.Debug().Str("sid", string(c.sess.ID)).Msg("leave confirmed during reconnect")
	default:
		c.stale("transport", c.logger.Debug().Str("event", "leave_completed"))
	}
}

func (c *Controller) onLeaveTimeout() {
	if c.state() != domain.StateLeaving {
		return
	}
	err := fmt.Errorf("%w: no confirmation within %s", domain.ErrTeardownTimeout, c.cfg.LeaveTimeout)
	c.lastErr = err
	c.teardown(false, note(notify.TeardownTimeout, err), note(notify.SessionEnded, nil))
}

func (c *Controller) onAutoLeave() {
	if c.state() != domain.StateActive {
		return
	}
	if !c.autoLeave.Fire(c.presence.Count()) {
		return
	}
	c.beginLeave("auto")
}

func (c *Controller) forceReset() {
	if c.sess == nil {
		c.timers.cancelAll()
		return
	}
	c.logger.Info().Str("sid", string(c.sess.ID)).Str("state", c.sess.State.String()).Msg("force reset")
	callLeave := c.sess.State != domain.StateIdle
	c.teardown(callLeave, note(notify.SessionEnded, nil))
}
