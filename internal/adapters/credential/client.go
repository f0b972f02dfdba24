// Package credential fetches channel tokens from the credential-issuing
// backend.
package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout    = 5 * time.Second
	defaultExpirySkew = 30 * time.Second
	defaultCacheTTL   = 10 * time.Minute
	maxBodyBytes      = 64 << 10
)

type Config struct {
	URL        string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	// ExpirySkew is how long before expiry a cached token stops being handed
	// out.
	ExpirySkew time.Duration
	CacheTTL   time.Duration
}

type tokenRequest struct {
	Channel string `json:"channel"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	UID       string    `json:"uid"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Client implements core.CredentialIssuer over JSON/HTTP.
type Client struct {
	cfg    Config
	http   *http.Client
	cache  *ttlcache.Cache[domain.ChannelName, core.Credential]
	now    func() time.Time
	policy func() backoff.BackOff
	logger zerolog.Logger
}

var _ core.CredentialIssuer = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("credential url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.ExpirySkew <= 0 {
		cfg.ExpirySkew = defaultExpirySkew
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}

	cache := ttlcache.New(
		ttlcache.WithTTL[domain.ChannelName, core.Credential](cfg.CacheTTL),
		ttlcache.WithDisableTouchOnHit[domain.ChannelName, core.Credential](),
	)
	go cache.Start()

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		cache:  cache,
		now:    time.Now,
		policy: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		logger: log.With().Str("module", "adapters.credential").Logger(),
	}, nil
}

func (c *Client) Stop() {
	c.cache.Stop()
}

// Invalidate drops the cached token for channel so the next request goes to
// the backend.
func (c *Client) Invalidate(channel domain.ChannelName) {
	c.cache.Delete(channel)
}

// RequestToken returns a cached token while it is comfortably valid,
// otherwise asks the backend. Auth and quota failures are not retried and
// wrap domain.ErrCredentialExpired.
func (c *Client) RequestToken(ctx context.Context, channel domain.ChannelName) (core.Credential, error) {
	if it := c.cache.Get(channel); it != nil {
		cred := it.Value()
		if cred.ExpiresAt.IsZero() || c.now().Add(c.cfg.ExpirySkew).Before(cred.ExpiresAt) {
			return cred, nil
		}
		c.cache.Delete(channel)
	}

	var cred core.Credential
	attempt := 0
	op := func() error {
		attempt++
		var err error
		cred, err = c.fetch(ctx, channel)
		if err != nil {
			c.logger.Warn().Err(err).Str("channel", string(channel)).Int("attempt", attempt).Msg("token request failed")
		}
		return err
	}
	b := backoff.WithContext(backoff.WithMaxRetries(c.policy(), uint64(c.cfg.MaxRetries)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return core.Credential{}, err
	}

	if ttl := c.cacheTTL(cred); ttl > 0 {
		c.cache.Set(channel, cred, ttl)
	}
	c.logger.Info().Str("channel", string(channel)).Time("expires_at", cred.ExpiresAt).Msg("token issued")
	return cred, nil
}

func (c *Client) cacheTTL(cred core.Credential) time.Duration {
	if cred.ExpiresAt.IsZero() {
		return c.cfg.CacheTTL
	}
	return min(c.cfg.CacheTTL, cred.ExpiresAt.Sub(c.now())-c.cfg.ExpirySkew)
}

func (c *Client) fetch(ctx context.Context, channel domain.ChannelName) (core.Credential, error) {
	body, err := json.Marshal(tokenRequest{Channel: string(channel)})
	if err != nil {
		return core.Credential{}, backoff.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return core.Credential{}, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return core.Credential{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return core.Credential{}, fmt.Errorf("token response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusTooManyRequests:
		return core.Credential{}, backoff.Permanent(fmt.Errorf("%w: backend status %d", domain.ErrCredentialExpired, resp.StatusCode))
	case resp.StatusCode >= 500:
		return core.Credential{}, fmt.Errorf("backend status %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		return core.Credential{}, backoff.Permanent(fmt.Errorf("backend status %d", resp.StatusCode))
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return core.Credential{}, backoff.Permanent(fmt.Errorf("token response: %w", err))
	}
	if tr.Token == "" {
		return core.Credential{}, backoff.Permanent(errors.New("token response: empty token"))
	}
	cred := core.Credential{
		Token:     tr.Token,
		LocalID:   domain.ParticipantID(tr.UID),
		ExpiresAt: tr.ExpiresAt,
	}
	if cred.ExpiresAt.IsZero() {
		cred.ExpiresAt = TokenExpiry(tr.Token)
	}
	return cred, nil
}

// TokenExpiry reads the exp claim of a JWT without verifying it; the
// signature is the media server's business. Opaque tokens yield zero.
func TokenExpiry(token string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
