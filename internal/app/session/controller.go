package session

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/VoiceCall/internal/app"
	"github.com/dkeye/VoiceCall/internal/app/notify"
	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultJoinTimeout             = 10 * time.Second
	DefaultLeaveTimeout            = 5 * time.Second
	DefaultReconnectAttemptTimeout = 10 * time.Second
)

type Config struct {
	JoinTimeout             time.Duration
	LeaveTimeout            time.Duration
	ReconnectAttemptTimeout time.Duration
	Reconnect               app.ReconnectConfig
	HeartbeatInterval       time.Duration
	AutoLeaveGrace          time.Duration
}

func DefaultConfig() Config {
	return Config{
		JoinTimeout:             DefaultJoinTimeout,
		LeaveTimeout:            DefaultLeaveTimeout,
		ReconnectAttemptTimeout: DefaultReconnectAttemptTimeout,
		Reconnect: app.ReconnectConfig{
			Delay:       app.DefaultReconnectDelay,
			MaxAttempts: app.DefaultReconnectMaxAttempts,
			Multiplier:  1,
		},
		HeartbeatInterval: app.DefaultHeartbeatInterval,
		AutoLeaveGrace:    app.DefaultAutoLeaveGrace,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = def.JoinTimeout
	}
	if c.LeaveTimeout <= 0 {
		c.LeaveTimeout = def.LeaveTimeout
	}
	if c.ReconnectAttemptTimeout <= 0 {
		c.ReconnectAttemptTimeout = def.ReconnectAttemptTimeout
	}
}

type Option func(*Controller)

func WithScheduler(s Scheduler) Option {
	return func(c *Controller) { c.sched = s }
}

func WithNotifier(n *notify.Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// Controller owns the session state machine. Every input (commands, engine
// events, timer firings) goes through one queue and is handled by the single
// goroutine running Run, so loop-owned fields need no locking.
type Controller struct {
	cfg       Config
	transport core.Transport
	sched     Scheduler
	notifier  *notify.Notifier
	queue     *eventQueue
	norm      *Normalizer
	logger    zerolog.Logger

	runOnce sync.Once
	done    chan struct{}

	// loop-owned
	runCtx         context.Context
	gen            uint64
	sess           *domain.Session
	joinOpts       domain.InitialMedia
	presence       *app.PresenceTracker
	media          *app.MuteReconciler
	reconnect      *app.ReconnectionPolicy
	keepAlive      *app.KeepAliveScheduler
	autoLeave      *app.AutoLeavePolicy
	timers         *timerSet
	attemptPending bool
	lastErr        error
}

func New(cfg Config, transport core.Transport, opts ...Option) *Controller {
	cfg.applyDefaults()
	c := &Controller{
		cfg:       cfg,
		transport: transport,
		sched:     systemScheduler{},
		queue:     newEventQueue(),
		done:      make(chan struct{}),
		logger:    log.With().Str("module", "app.session").Logger(),
		runCtx:    context.Background(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.notifier == nil {
		c.notifier = notify.New(app.SimplePolicy{})
	}
	c.norm = &Normalizer{q: c.queue, now: c.sched.Now}
	c.presence = app.NewPresenceTracker(c.sched.Now)
	c.media = app.NewMuteReconciler()
	c.reconnect = app.NewReconnectionPolicy(cfg.Reconnect)
	c.keepAlive = app.NewKeepAliveScheduler(cfg.HeartbeatInterval)
	c.autoLeave = app.NewAutoLeavePolicy(cfg.AutoLeaveGrace)
	c.timers = newTimerSet(c.sched, c.queue.push)

	transport.SetEventHandler(c.norm)
	c.notifier.PublishSnapshot(c.snapshot())
	return c
}

// Handler is the engine callback sink.
func (c *Controller) Handler() core.EventHandler {
	return c.norm
}

func (c *Controller) Notifier() *notify.Notifier {
	return c.notifier
}

func (c *Controller) Subscribe(buffer int) *notify.Subscription {
	return c.notifier.Subscribe(buffer)
}

// Done is closed once Run has returned.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Run processes the queue until ctx is cancelled. On exit any session is
// force-reset and observers are released.
func (c *Controller) Run(ctx context.Context) error {
	started := false
	c.runOnce.Do(func() { started = true })
	if !started {
		return domain.ErrControllerStopped
	}
	c.runCtx = ctx
	defer close(c.done)

	c.logger.Info().Msg("session controller started")
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case <-c.queue.Ready():
			for {
				ev, ok := c.queue.pop()
				if !ok {
					break
				}
				c.dispatch(ev)
			}
		}
	}
}

func (c *Controller) shutdown() {
	c.runCtx = context.Background()
	if c.sess != nil {
		c.logger.Info().Str("sid", string(c.sess.ID)).Msg("shutting down with session, forcing reset")
		c.forceReset()
	}
	for _, ev := range c.queue.close() {
		if cmd, ok := ev.(*command); ok {
			cmd.reply <- cmdResult{err: domain.ErrControllerStopped}
		}
	}
	c.notifier.Close()
	c.logger.Info().Msg("session controller stopped")
}

func (c *Controller) dispatch(ev any) {
	switch e := ev.(type) {
	case *command:
		c.handleCommand(e)
	case core.Event:
		c.handleTransportEvent(e)
	case timerFired:
		c.handleTimer(e)
	default:
		c.logger.Warn().Type("event", ev).Msg("unknown queue item")
	}
}

func (c *Controller) state() domain.State {
	if c.sess == nil {
		return domain.StateIdle
	}
	return c.sess.State
}

func (c *Controller) setState(to domain.State) {
	from := c.state()
	if c.sess != nil {
		c.sess.State = to
	}
	metrics.Transitions.WithLabelValues(from.String(), to.String()).Inc()
	ev := c.logger.Info().Str("from", from.String()).Str("to", to.String()).Uint64("gen", c.gen)
	if c.sess != nil {
		ev = ev.Str("sid", string(c.sess.ID)).Str("channel", string(c.sess.Channel))
	}
	ev.Msg("session transition")
}

func (c *Controller) snapshot() notify.Snapshot {
	snap := notify.Snapshot{
		State:      c.state(),
		Generation: c.gen,
		At:         c.sched.Now(),
	}
	if c.lastErr != nil {
		snap.LastError = c.lastErr.Error()
	}
	if c.sess == nil {
		return snap
	}
	snap.SessionID = c.sess.ID
	snap.Channel = c.sess.Channel
	snap.Kind = domain.KindName(c.sess.Kind)
	snap.RemoteParty = c.sess.Kind.RemoteParty()
	snap.ParticipantCount = c.presence.Count()
	snap.Participants = c.presence.Snapshot()
	snap.Media = c.media.State()
	snap.CredentialExpiring = c.media.CredentialExpiring()
	if c.sess.State == domain.StateReconnecting {
		snap.ReconnectAttempt = c.reconnect.Attempts()
		snap.ReconnectMaxAttempts = c.reconnect.MaxAttempts()
	}
	return snap
}

func (c *Controller) publish() {
	metrics.RemoteParticipants.Set(float64(c.presence.Count()))
	c.notifier.PublishSnapshot(c.snapshot())
}

func (c *Controller) notify(kind notify.Kind, err error) {
	n := notify.Notification{Kind: kind, Err: err, At: c.sched.Now()}
	if err != nil {
		n.Message = err.Error()
	}
	if c.sess != nil {
		n.SessionID = c.sess.ID
		n.Channel = c.sess.Channel
	}
	c.notifier.Notify(n)
}

// teardown is the single exit path of a session: timers are cancelled before
// the state changes, then the session and presence are discarded and the
// generation advances so anything still in flight is recognised as stale.
func (c *Controller) teardown(callLeave bool, notes ...notify.Notification) {
	if c.sess == nil {
		return
	}
	c.timers.cancelAll()
	c.keepAlive.Stop()
	c.autoLeave.Reset()
	c.reconnect.Begin()
	c.attemptPending = false

	if callLeave {
		if err := c.transport.Leave(c.runCtx); err != nil {
			c.logger.Warn().Err(err).Str("sid", string(c.sess.ID)).Msg("best-effort leave failed")
		}
	}

	for _, n := range notes {
		n.SessionID = c.sess.ID
		n.Channel = c.sess.Channel
		n.At = c.sched.Now()
		if n.Err != nil && n.Message == "" {
			n.Message = n.Err.Error()
		}
		c.notifier.Notify(n)
	}

	c.setState(domain.StateClosed)
	c.publish()

	c.sess = nil
	c.presence.Reset()
	c.media.Reset()
	c.gen++
	c.setState(domain.StateIdle)
	c.publish()
}

func note(kind notify.Kind, err error) notify.Notification {
	return notify.Notification{Kind: kind, Err: err}
}

func (c *Controller) stale(source string, ev *zerolog.Event) {
	metrics.StaleEvents.WithLabelValues(source).Inc()
	ev.Uint64("gen", c.gen).Str("state", c.state().String()).Msg("stale event discarded")
}

// Snapshot returns the last published state.
func (c *Controller) Snapshot() notify.Snapshot {
	return c.notifier.Latest()
}
