package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceCall/internal/adapters/credential"
	router "github.com/dkeye/VoiceCall/internal/adapters/http"
	"github.com/dkeye/VoiceCall/internal/adapters/push"
	"github.com/dkeye/VoiceCall/internal/adapters/rtc"
	"github.com/dkeye/VoiceCall/internal/app"
	"github.com/dkeye/VoiceCall/internal/app/notify"
	"github.com/dkeye/VoiceCall/internal/app/orch"
	"github.com/dkeye/VoiceCall/internal/app/session"
	"github.com/dkeye/VoiceCall/internal/config"
	"github.com/dkeye/VoiceCall/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	transport, err := newTransport(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create transport")
	}

	var policy app.Policy = app.SimplePolicy{}
	if cfg.Session.SlowObserverLimit > 0 {
		policy = app.TolerantPolicy{Limit: cfg.Session.SlowObserverLimit}
	}
	ctrl := session.New(sessionConfig(cfg.Session), transport, session.WithNotifier(notify.New(policy)))

	o := &orch.Orchestrator{
		Sessions: ctrl,
		Limiter:  orch.NewRateLimiter(cfg.Push.RateLimit, cfg.Push.RateInterval),
	}
	if cfg.Credential.URL != "" {
		creds, err := credential.New(credential.Config{
			URL:        cfg.Credential.URL,
			APIKey:     cfg.Credential.APIKey,
			Timeout:    cfg.Credential.Timeout,
			MaxRetries: cfg.Credential.MaxRetries,
			ExpirySkew: cfg.Credential.ExpirySkew,
			CacheTTL:   cfg.Credential.CacheTTL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create credential client")
		}
		defer creds.Stop()
		o.Credentials = creds
	} else {
		log.Warn().Msg("no credential backend configured, joins must carry a token")
	}

	ctrlDone := make(chan struct{})
	go func() {
		defer close(ctrlDone)
		_ = ctrl.Run(ctx)
	}()
	go o.WatchCredentials(ctx)

	consumer, err := push.New(cfg.Push, o)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create push consumer")
	}
	if consumer != nil {
		go func() {
			if err := consumer.Run(ctx); err != nil {
				log.Error().Err(err).Str("push", cfg.Push.Type).Msg("push consumer stopped")
			}
		}()
	}

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("transport", cfg.Transport).Msg("VoiceCall server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if consumer != nil {
		if err := consumer.Close(); err != nil {
			log.Error().Err(err).Msg("push consumer close")
		}
	}
	<-ctrlDone
	if err := transport.Close(); err != nil {
		log.Error().Err(err).Msg("transport close")
	}
	log.Info().Msg("Server exited gracefully")
}

func newTransport(cfg *config.Config) (core.Transport, error) {
	if cfg.Transport == "loopback" {
		return rtc.NewLoopback(), nil
	}
	return rtc.NewEngine(rtc.Config{
		SignalURL:    cfg.Signal.URL,
		ICEServers:   cfg.Signal.ICEServers,
		EnableMedia:  cfg.Signal.EnableMedia,
		DialTimeout:  cfg.Signal.DialTimeout,
		WriteTimeout: cfg.Signal.WriteTimeout,
		SendBuffer:   cfg.Signal.SendBuffer,
	})
}

func sessionConfig(sc config.SessionConfig) session.Config {
	return session.Config{
		JoinTimeout:             sc.JoinTimeout,
		LeaveTimeout:            sc.LeaveTimeout,
		ReconnectAttemptTimeout: sc.ReconnectAttemptTimeout,
		Reconnect: app.ReconnectConfig{
			Delay:       sc.ReconnectDelay,
			MaxAttempts: sc.ReconnectMaxAttempts,
			Multiplier:  sc.ReconnectMultiplier,
			MaxDelay:    sc.ReconnectMaxDelay,
		},
		HeartbeatInterval: sc.HeartbeatInterval,
		AutoLeaveGrace:    sc.AutoLeaveGrace,
	}
}
