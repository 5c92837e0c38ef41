package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ent0n29/guardian/internal/alerts"
	"github.com/ent0n29/guardian/internal/backend"
	"github.com/ent0n29/guardian/internal/config"
	"github.com/ent0n29/guardian/internal/history"
	"github.com/ent0n29/guardian/internal/httpapi"
	"github.com/ent0n29/guardian/internal/monitor"
	"github.com/ent0n29/guardian/internal/observability"
	"github.com/ent0n29/guardian/internal/profile"
	"github.com/ent0n29/guardian/internal/reliability"
	"github.com/ent0n29/guardian/internal/session"
)

const (
	storeConnectAttempts = 5
	storeConnectBase     = 250 * time.Millisecond
	storeConnectCap      = 4 * time.Second
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Monitor  *monitor.Service
	Profile  *profile.Store
	Metrics  *observability.Metrics
	// MediaDetail describes which media helpers are available.
	MediaDetail string

	// Cleanup should be called on shutdown to release external resources (DB, Redis).
	Cleanup func() error
}

type pinger interface {
	Ping(ctx context.Context) error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	var historyStore history.Store
	err := reliability.WaitReady(ctx, storeConnectAttempts, storeConnectBase, storeConnectCap, func(ctx context.Context) error {
		s, err := history.NewStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Warn("conversation log store not ready", "error", err)
			return err
		}
		historyStore = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("conversation log store init failed: %w", err)
	}

	var alertStore alerts.Store
	err = reliability.WaitReady(ctx, storeConnectAttempts, storeConnectBase, storeConnectCap, func(ctx context.Context) error {
		s, err := alerts.NewStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("alert log store not ready", "error", err)
			return err
		}
		alertStore = s
		return nil
	})
	if err != nil {
		_ = historyStore.Close()
		return nil, fmt.Errorf("alert log store init failed: %w", err)
	}

	closeStores := func() error {
		var errs []string
		if err := alertStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := historyStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	profiles, err := profile.Load(cfg.ProfilePath)
	if err != nil {
		_ = closeStores()
		return nil, fmt.Errorf("profile load failed: %w", err)
	}

	b, err := backend.NewBackend(backend.Config{
		Mode:              cfg.Backend,
		LocalURL:          cfg.LocalURL,
		LocalModel:        cfg.LocalModel,
		HostedBaseURL:     cfg.HostedBaseURL,
		HostedModel:       cfg.HostedModel,
		APIKey:            cfg.GoogleAPIKey,
		Timeout:           cfg.BackendTimeout,
		RequestsPerMinute: cfg.BackendRPM,
	})
	if err != nil {
		_ = closeStores()
		return nil, fmt.Errorf("guardian backend init failed: %w", err)
	}
	b = backend.Instrument(b, metrics)

	mediaSetup := resolveMedia(cfg)
	sessions := session.NewManager(cfg.SessionInactivityTimeout)

	mon, err := monitor.NewService(monitor.Deps{
		Sessions:    sessions,
		Backend:     b,
		Directory:   profiles,
		History:     historyStore,
		Alerts:      alertStore,
		Transcriber: mediaSetup.transcriber,
		Describer:   mediaSetup.describer,
		Metrics:     metrics,
		Logger:      logger,
		MaxBuffer:   cfg.MemoryBuffer,
		RedactLog:   cfg.RedactLog,
	})
	if err != nil {
		_ = closeStores()
		return nil, err
	}
	sessions.SetExpireHook(mon.Expire)

	var checks []httpapi.ReadinessCheck
	if p, ok := historyStore.(pinger); ok {
		checks = append(checks, httpapi.ReadinessCheck{Name: "conversation_log", Check: p.Ping})
	}
	if p, ok := alertStore.(pinger); ok {
		checks = append(checks, httpapi.ReadinessCheck{Name: "alert_log", Check: p.Ping})
	}

	api := httpapi.New(cfg, sessions, mon, profiles, metrics, logger, checks...)

	logger.Info("guardian assembled",
		"backend", b.Name(),
		"default_mode", cfg.DefaultMode,
		"memory_buffer", cfg.MemoryBuffer,
		"conversation_log", storeMode(cfg.DatabaseURL, "postgres"),
		"alert_log", storeMode(cfg.RedisURL, "redis"),
		"media", mediaSetup.detail,
	)

	return &BuildResult{
		Config:      cfg,
		API:         api,
		Sessions:    sessions,
		Monitor:     mon,
		Profile:     profiles,
		Metrics:     metrics,
		MediaDetail: mediaSetup.detail,
		Cleanup:     closeStores,
	}, nil
}

func storeMode(url, backing string) string {
	if strings.TrimSpace(url) == "" {
		return "in-memory"
	}
	return backing
}
