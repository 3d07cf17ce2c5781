package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/vovakirdan/parley/internal/auth"
	"github.com/vovakirdan/parley/internal/callengine"
	"github.com/vovakirdan/parley/internal/callengine/livekit"
	"github.com/vovakirdan/parley/internal/config"
	"github.com/vovakirdan/parley/internal/core"
	"github.com/vovakirdan/parley/internal/moderation"
	"github.com/vovakirdan/parley/internal/notify"
	"github.com/vovakirdan/parley/internal/presence"
	"github.com/vovakirdan/parley/internal/service/access"
	"github.com/vovakirdan/parley/internal/service/calls"
	"github.com/vovakirdan/parley/internal/service/chats"
	"github.com/vovakirdan/parley/internal/service/destruct"
	"github.com/vovakirdan/parley/internal/service/drafts"
	"github.com/vovakirdan/parley/internal/service/messages"
	"github.com/vovakirdan/parley/internal/store"
	"github.com/vovakirdan/parley/internal/store/sqlite"
	"github.com/vovakirdan/parley/internal/timers"
	transporthttp "github.com/vovakirdan/parley/internal/transport/http"
)

const redisDialTimeout = 5 * time.Second

// App wires together core, services and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	timers          *timers.Set
	notifier        notify.Publisher
	presence        *presence.Redis
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	a := &App{
		shutdownTimeout: cfg.ShutdownTimeout,
		timers:          timers.New(),
		store:           st,
		log:             logger,
	}

	var mirror core.PresenceMirror
	if cfg.Redis.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
		rdb, err := presence.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err == nil {
			// Sets left by a previous process describe sessions that are gone.
			err = rdb.Reset(ctx)
		}
		cancel()
		if err != nil {
			a.cleanup()
			return nil, fmt.Errorf("init redis presence: %w", err)
		}
		a.presence = rdb
		mirror = rdb
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("redis presence mirror enabled")
	}

	a.notifier = notify.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		a.notifier = notify.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka notifications enabled")
	}

	var engine callengine.Engine
	if cfg.LiveKit.Enabled {
		engine = livekit.New(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.LiveKit.URL)
		logger.Info().Str("url", cfg.LiveKit.URL).Msg("livekit call media enabled")
	}

	a.hub = core.NewHub(mirror, logger)

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	})
	accessService := access.NewService(st)
	draftService := drafts.NewService(a.hub)
	chatService := chats.NewService(st, accessService, a.hub, a.timers, chats.Config{MaxGroupSize: cfg.MaxGroupSize}, logger)
	messageService := messages.NewService(messages.Deps{
		Store:      st,
		Access:     accessService,
		Hub:        a.hub,
		Drafts:     draftService,
		Destruct:   destruct.NewScheduler(st, a.hub, a.timers, logger),
		Moderation: moderation.NewWordList(cfg.BlockedWords),
		Notifier:   a.notifier,
		Log:        logger,
	})
	callService := calls.NewService(st, accessService, chatService, a.hub, engine, logger)

	a.server = transporthttp.NewServer(a.hub, transporthttp.Services{
		Auth:     authService,
		Messages: messageService,
		Chats:    chatService,
		Drafts:   draftService,
		Calls:    callService,
	}, cfg, logger)

	return a, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go a.hub.Run(ctx)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		// Hijacked websocket connections are not tracked by Shutdown; closing
		// the hub ends every session's write loop.
		a.hub.Close()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup stops timers and closes external resources.
func (a *App) cleanup() {
	a.timers.Stop()
	if a.hub != nil {
		a.hub.Close()
	}
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close notifier")
		}
	}
	if a.presence != nil {
		if err := a.presence.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
