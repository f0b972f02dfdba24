package session

import (
	"fmt"
	"time"

	"github.com/dkeye/VoiceCall/internal/app/notify"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/metrics"
)

func (c *Controller) mediaWritable() error {
	switch c.state() {
	case domain.StateJoining, domain.StateActive, domain.StateReconnecting:
		return nil
	default:
		return domain.ErrNotInSession
	}
}

func (c *Controller) setAudioMuted(muted bool) error {
	if err := c.mediaWritable(); err != nil {
		return err
	}
	c.media.SetDesiredAudio(muted)
	if c.state() == domain.StateActive {
		if err := c.transport.MuteLocalAudio(muted); err != nil {
			c.logger.Warn().Err(err).Bool("muted", muted).Msg("mute call failed, heartbeat will retry")
		} else {
			c.media.AudioRequested(muted)
		}
	}
	c.publish()
	return nil
}

func (c *Controller) setVideoEnabled(enabled bool) error {
	if err := c.mediaWritable(); err != nil {
		return err
	}
	c.media.SetDesiredVideo(enabled)
	if c.state() == domain.StateActive {
		if err := c.transport.EnableLocalVideo(enabled); err != nil {
			c.logger.Warn().Err(err).Bool("enabled", enabled).Msg("video call failed, heartbeat will retry")
		} else {
			c.media.VideoRequested(enabled)
		}
	}
	c.publish()
	return nil
}

// applyDesiredMedia re-asserts desired state on the transport; with force it
// does so even when the last ack already matches.
func (c *Controller) applyDesiredMedia(force bool) {
	st := c.media.State()
	if force || c.media.AudioDrift() {
		if err := c.transport.MuteLocalAudio(st.DesiredAudioMuted); err != nil {
			c.logger.Warn().Err(err).Msg("re-apply audio failed")
		} else {
			c.media.AudioRequested(st.DesiredAudioMuted)
		}
	}
	if force || c.media.VideoDrift() {
		if err := c.transport.EnableLocalVideo(st.DesiredVideoEnabled); err != nil {
			c.logger.Warn().Err(err).Msg("re-apply video failed")
		} else {
			c.media.VideoRequested(st.DesiredVideoEnabled)
		}
	}
}

func (c *Controller) onLocalAudio(muted bool) {
	if c.sess == nil {
		c.stale("transport", c.logger.Debug().Str("event", "local_audio_changed"))
		return
	}
	if c.media.AckAudio(muted) {
		err := fmt.Errorf("%w: audio muted=%t, requested muted=%t", domain.ErrMuteStateConflict, muted, c.media.State().DesiredAudioMuted)
		c.logger.Warn().Err(err).Str("sid", string(c.sess.ID)).Msg("audio state conflict")
		c.notify(notify.MuteStateConflict, err)
	}
	c.publish()
}

func (c *Controller) onLocalVideo(enabled bool) {
	if c.sess == nil {
		c.stale("transport", c.logger.Debug().Str("event", "local_video_changed"))
		return
	}
	if c.media.AckVideo(enabled) {
		err := fmt.Errorf("%w: video enabled=%t, requested enabled=%t", domain.ErrMuteStateConflict, enabled, c.media.State().DesiredVideoEnabled)
		c.logger.Warn().Err(err).Str("sid", string(c.sess.ID)).Msg("video state conflict")
		c.notify(notify.MuteStateConflict, err)
	}
	c.publish()
}

func (c *Controller) onHeartbeat(token uint64) {
	if c.state() != domain.StateActive || !c.keepAlive.Tick(token) {
		c.stale("timer", c.logger.Debug().Str("timer", timerHeartbeat.String()))
		return
	}
	metrics.Heartbeats.Inc()
	if err := c.transport.KeepAlive(); err != nil {
		c.logger.Warn().Err(err).Str("sid", string(c.sess.ID)).Msg("keep-alive failed")
	}
	c.applyDesiredMedia(false)
	c.timers.arm(timerHeartbeat, c.gen, c.keepAlive.Interval(), token)
}

func (c *Controller) renewToken(token string, expiresAt time.Time) error {
	if c.sess == nil || c.sess.State == domain.StateLeaving {
		return domain.ErrNotInSession
	}
	c.sess.Token = token
	c.sess.TokenExpiresAt = expiresAt
	c.media.ClearCredentialExpiring()
	if c.sess.State == domain.StateActive || c.sess.State == domain.StateJoining {
		if err := c.transport.RenewToken(token); err != nil {
			c.publish()
			return fmt.Errorf("renew token: %w", err)
		}
	}
	c.logger.Info().Str("sid", string(c.sess.ID)).Msg("token renewed")
	c.publish()
	return nil
}
