package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AltairaLabs/acro-recorder/internal/bridge"
	"github.com/AltairaLabs/acro-recorder/internal/config"
	"github.com/AltairaLabs/acro-recorder/internal/ingest"
	"github.com/AltairaLabs/acro-recorder/internal/retry"
	"github.com/AltairaLabs/acro-recorder/internal/session"
	"github.com/AltairaLabs/acro-recorder/internal/storage"
	"github.com/AltairaLabs/acro-recorder/internal/storage/bolt"
	"github.com/AltairaLabs/acro-recorder/internal/storage/memory"
	"github.com/AltairaLabs/acro-recorder/internal/types"
	"github.com/AltairaLabs/acro-recorder/internal/upload"
)

// app holds the wired recorder components
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	store      storage.Store
	client     *ingest.Client
	bridge     *bridge.Bridge
	pipeline   *upload.Pipeline
	controller *session.Controller

	unsubscribe func()
}

func openStore(cfg config.StorageConfig, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Backend {
	case "memory":
		logger.Warn("Using in-memory step queue, captured steps will not survive a restart")
		return memory.New(), nil
	case "bolt":
		store, err := bolt.Open(cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// newApp wires storage, backend client, agent bridge, upload pipeline and session controller
func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	store, err := openStore(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open step queue: %w", err)
	}

	policy := retry.FromConfig(cfg.Retry)
	if err := policy.Validate(); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("invalid retry policy: %w", err)
	}

	client := ingest.NewClient(cfg.Backend, logger)
	br := bridge.New(cfg.Server, logger)

	notifier := upload.Notifiers{br, logNotifier(logger)}
	pipeline := upload.NewPipeline(store, client, notifier, cfg.Upload, policy, logger)
	finalizer := session.NewFinalizer(pipeline, client, cfg.Upload, logger)

	page := session.Page{Capture: br, Media: br, UI: br, Listeners: br}
	controller := session.NewController(page, client, pipeline, store, finalizer, cfg.Session, logger)

	a := &app{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		client:     client,
		bridge:     br,
		pipeline:   pipeline,
		controller: controller,
	}

	a.unsubscribe = controller.Subscribe(br.PublishBadge)
	br.SetEventHandler(func(ctx context.Context, req types.CaptureRequest) error {
		_, err := controller.CaptureEvent(ctx, req)
		return err
	})

	return a, nil
}

// recoverSession restores a session interrupted by a restart. It is left in stopping until finalized.
func (a *app) recoverSession(ctx context.Context) (*types.Session, error) {
	recovered, err := a.controller.Recover(ctx)
	if err != nil {
		return nil, err
	}
	if recovered != nil {
		stats, statsErr := a.store.Stats(ctx, recovered.ID)
		if statsErr == nil {
			a.logger.Info("Interrupted session found",
				"session_id", recovered.ID,
				"pending", stats.Pending,
				"failed", stats.Failed,
				"acked", stats.Acked,
			)
		}
	}
	return recovered, nil
}

func (a *app) close() error {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	a.bridge.Close()
	a.pipeline.Stop()
	return a.store.Close()
}

// logNotifier records permanent upload failures in the log next to the in-page warning
func logNotifier(logger *slog.Logger) upload.Notifier {
	return upload.NotifierFunc(func(ctx context.Context, w upload.Warning) {
		logger.WarnContext(ctx, w.Message,
			"session_id", w.SessionID,
			"order_indexes", w.OrderIndexes,
			"error", w.Error,
		)
	})
}
