package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dkeye/VoiceCall/internal/app/notify"
	"github.com/dkeye/VoiceCall/internal/app/orch"
	"github.com/dkeye/VoiceCall/internal/config"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// SessionAPI is what the router needs from the orchestrator.
type SessionAPI interface {
	Join(ctx context.Context, cmd orch.JoinCommand) (domain.SessionID, error)
	OnIncoming(ctx context.Context, source string, req orch.IncomingRequest) (domain.SessionID, error)
	Leave(ctx context.Context) error
	SetAudioMuted(ctx context.Context, muted bool) error
	SetVideoEnabled(ctx context.Context, enabled bool) error
	Renew(ctx context.Context, token string, expiresAt time.Time) error
	Refresh(ctx context.Context) error
	Reset(ctx context.Context) error
	Snapshot() notify.Snapshot
	Subscribe(buffer int) *notify.Subscription
}

var _ SessionAPI = (*orch.Orchestrator)(nil)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, api SessionAPI) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("VoiceCallSessions", store))
	r.Use(ClientTokenMiddleware())

	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	h := &handlers{api: api, notifyBuffer: cfg.Session.NotifyBuffer}
	g := r.Group("/api")
	g.GET("/session", h.snapshot)
	g.POST("/session/join", h.join)
	g.POST("/session/leave", h.leave)
	g.POST("/session/mute", h.mute)
	g.POST("/session/video", h.video)
	g.POST("/session/token", h.token)
	g.POST("/session/reset", h.reset)
	g.POST("/incoming", h.incoming)
	g.GET("/ws/session", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws session endpoint hit")
		h.watch(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Bool("metrics", cfg.Metrics.Enabled).Msg("router setup")
	return r
}

type handlers struct {
	api          SessionAPI
	notifyBuffer int
}

func (h *handlers) snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.api.Snapshot())
}

func (h *handlers) join(c *gin.Context) {
	var cmd orch.JoinCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid join request"})
		return
	}
	sid, err := h.api.Join(c.Request.Context(), cmd)
	if err != nil {
		fail(c, err)
		return
	}
	s := sessions.Default(c)
	s.Set("sid", string(sid))
	saveSession(c, s)
	c.JSON(http.StatusAccepted, gin.H{"session_id": sid})
}

func (h *handlers) incoming(c *gin.Context) {
	var req orch.IncomingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid trigger"})
		return
	}
	if req.From == "" {
		req.From = c.ClientIP()
	}
	sid, err := h.api.OnIncoming(c.Request.Context(), "http", req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"session_id": sid})
}

// leave refuses a client whose cookie names a session other than the
// current one, so a stale tab cannot hang up a newer call. Clients without a
// recorded session may always leave.
func (h *handlers) leave(c *gin.Context) {
	s := sessions.Default(c)
	if sid, ok := s.Get("sid").(string); ok && sid != "" {
		if cur := h.api.Snapshot().SessionID; cur != domain.SessionID(sid) {
			fail(c, fmt.Errorf("%w: session %s is over", domain.ErrNotInSession, sid))
			return
		}
	}
	if err := h.api.Leave(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	s.Delete("sid")
	saveSession(c, s)
	c.JSON(http.StatusAccepted, h.api.Snapshot())
}

func saveSession(c *gin.Context, s sessions.Session) {
	if err := s.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("cookie session not saved")
	}
}

func (h *handlers) mute(c *gin.Context) {
	var req struct {
		Muted *bool `json:"muted"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Muted == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "muted is required"})
		return
	}
	if err := h.api.SetAudioMuted(c.Request.Context(), *req.Muted); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.api.Snapshot())
}

func (h *handlers) video(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled is required"})
		return
	}
	if err := h.api.SetVideoEnabled(c.Request.Context(), *req.Enabled); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.api.Snapshot())
}

// token renews with the supplied token, or fetches a fresh one when the body
// carries none.
func (h *handlers) token(c *gin.Context) {
	var req struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token request"})
			return
		}
	}
	var err error
	if req.Token == "" {
		err = h.api.Refresh(c.Request.Context())
	} else {
		err = h.api.Renew(c.Request.Context(), req.Token, req.ExpiresAt)
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.api.Snapshot())
}

func (h *handlers) reset(c *gin.Context) {
	if err := h.api.Reset(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, h.api.Snapshot())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrChannelEmpty),
		errors.Is(err, domain.ErrChannelTooLong),
		errors.Is(err, domain.ErrParticipantEmpty),
		errors.Is(err, domain.ErrParticipantTooLong):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAlreadyInSession),
		errors.Is(err, domain.ErrNotInSession):
		return http.StatusConflict
	case errors.Is(err, orch.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrCredentialExpired):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrControllerStopped),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
