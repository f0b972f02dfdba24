package app

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultReconnectDelay       = 2 * time.Second
	DefaultReconnectMaxAttempts = 3
)

type ReconnectAction int

const (
	// RetryAfter schedules the next rejoin after Decision.Delay.
	RetryAfter ReconnectAction = iota
	// GiveUp means the retry budget is exhausted.
	GiveUp
	// FailCredential means the token is known to be expired; retrying with it
	// is pointless.
	FailCredential
)

func (a ReconnectAction) String() string {
	switch a {
	case RetryAfter:
		return "retry"
	case GiveUp:
		return "give_up"
	case FailCredential:
		return "credential_expired"
	default:
		return "unknown"
	}
}

type ReconnectDecision struct {
	Action  ReconnectAction
	Delay   time.Duration
	Attempt int
}

type ReconnectConfig struct {
	Delay       time.Duration
	MaxAttempts int
	// Multiplier > 1 grows the delay between attempts; 1 keeps it fixed.
	Multiplier float64
	MaxDelay   time.Duration
}

// ReconnectionPolicy decides whether and when to rejoin after a connection
// loss. It is driven by the session controller and holds no timers itself.
type ReconnectionPolicy struct {
	cfg      ReconnectConfig
	b        backoff.BackOff
	attempts int
}

func NewReconnectionPolicy(cfg ReconnectConfig) *ReconnectionPolicy {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultReconnectDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultReconnectMaxAttempts
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	if cfg.MaxDelay < cfg.Delay {
		cfg.MaxDelay = cfg.Delay * 30
	}

	var inner backoff.BackOff
	if cfg.Multiplier == 1 {
		inner = backoff.NewConstantBackOff(cfg.Delay)
	} else {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = cfg.Delay
		exp.Multiplier = cfg.Multiplier
		exp.RandomizationFactor = 0
		exp.MaxInterval = cfg.MaxDelay
		exp.MaxElapsedTime = 0
		inner = exp
	}
	p := &ReconnectionPolicy{
		cfg: cfg,
		b:   backoff.WithMaxRetries(inner, uint64(cfg.MaxAttempts)),
	}
	p.b.Reset()
	return p
}

// Begin starts a fresh reconnect cycle with attemptCount = 0.
func (p *ReconnectionPolicy) Begin() {
	p.attempts = 0
	p.b.Reset()
}

// Next is called when the connection is lost and after each failed attempt.
// A known-expired credential short-circuits without consuming an attempt.
func (p *ReconnectionPolicy) Next(credentialExpired bool) ReconnectDecision {
	if credentialExpired {
		return ReconnectDecision{Action: FailCredential, Attempt: p.attempts}
	}
	d := p.b.NextBackOff()
	if d == backoff.Stop {
		return ReconnectDecision{Action: GiveUp, Attempt: p.attempts}
	}
	p.attempts++
	return ReconnectDecision{Action: RetryAfter, Delay: d, Attempt: p.attempts}
}

// Attempts is the number of rejoin attempts scheduled in this cycle.
func (p *ReconnectionPolicy) Attempts() int {
	return p.attempts
}

// MaxAttempts is the configured limit per cycle.
func (p *ReconnectionPolicy) MaxAttempts() int {
	return p.cfg.MaxAttempts
}
