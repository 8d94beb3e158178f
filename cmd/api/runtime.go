package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"boardportal/auth"
	"boardportal/config"
	"boardportal/db"
	"boardportal/localstore"
	"boardportal/memstore"
	"boardportal/notify"
	"boardportal/pgstore"
	"boardportal/render"
	"boardportal/reststore"
	"boardportal/resolution"
)

// runtime is the wired object graph shared by every command.
type runtime struct {
	cfg       *config.Config
	log       *zap.Logger
	repo      *resolution.FallbackRepository
	service   *resolution.Service
	evaluator *resolution.DeadlineEvaluator
	// local is the first tier owned by this process; the facade serves it.
	local   resolution.Backend
	tokens  *auth.Service
	closers []func() error
}

func openRuntime(ctx context.Context, cfg *config.Config, log *zap.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, log: log}
	var backends []resolution.Backend
	tiered := cfg.Storage.Mode != config.StorageDev

	if cfg.Storage.Mode == config.StorageDev {
		log.Warn("dev storage mode: records live in memory only")
		backends = append(backends, memstore.New("memory"))
	}

	if tiered && cfg.Storage.Primary.Enabled {
		pool, err := db.NewPool(ctx, cfg.Storage.Primary.DSN, db.PoolOptions{
			MaxConns: cfg.Storage.Primary.MaxConns,
			MinConns: cfg.Storage.Primary.MinConns,
		})
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, func() error { pool.Close(); return nil })
		if cfg.Storage.Primary.Migrate {
			version, err := db.Migrate(ctx, pool)
			if err != nil {
				log.Warn("primary migration failed; lower tiers will serve until it recovers", zap.Error(err))
			} else {
				log.Info("primary schema ready", zap.Int("version", version))
			}
		}
		backends = append(backends, pgstore.NewRepository(pool))
	}

	if secret := cfg.Facade.TokenSecret; secret != "" {
		tokens, err := auth.NewService(secret)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.tokens = tokens
	}

	if tiered && cfg.Storage.Secondary.Enabled {
		opts := reststore.ClientOptions{
			BaseURL:    cfg.Storage.Secondary.BaseURL,
			Timeout:    cfg.Storage.Secondary.Timeout,
			RetryCount: cfg.Storage.Secondary.RetryCount,
		}
		if secret := cfg.Storage.Secondary.TokenSecret; secret != "" {
			tokens, err := auth.NewService(secret)
			if err != nil {
				rt.Close()
				return nil, err
			}
			opts.Tokens = tokens
		}
		backends = append(backends, reststore.NewClient(opts, log.Named("reststore")))
	}

	if tiered && cfg.Storage.Local.Enabled {
		store, err := localstore.Open(cfg.Storage.Local.Path)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, store.Close)
		backends = append(backends, store)
	}

	for _, b := range backends {
		if b.Name() != "rest" {
			rt.local = b
			break
		}
	}

	sinks := notify.Fanout{notify.NewLog(log.Named("notify"))}
	if cfg.Notify.Redis.Enabled {
		client := notify.NewRedisClient(cfg.Notify.Redis.Addr, cfg.Notify.Redis.Password, cfg.Notify.Redis.DB)
		stream := notify.NewRedisStream(client, cfg.Notify.Redis.Stream)
		if err := stream.Ping(ctx); err != nil {
			log.Warn("redis unreachable at startup", zap.Error(err))
		}
		rt.closers = append(rt.closers, stream.Close)
		sinks = append(sinks, stream)
	}

	rt.repo = resolution.NewFallbackRepository(log.Named("repository"), cfg.Storage.Timeout, backends...)
	rt.service = resolution.NewService(rt.repo, sinks, render.NewManifestRenderer(cfg.Document.OutputDir), log.Named("lifecycle")).
		WithPolicy(resolution.Policy{
			DefaultDeadlineDays:  cfg.Signing.DefaultDeadlineDays,
			PanelSize:            cfg.Signing.PanelSize,
			RequireAllSigned:     cfg.Signing.RequireAllSigned,
			ReminderUrgentWithin: cfg.Signing.ReminderUrgentWithin,
			Locales:              cfg.Document.Locales,
			NotifyTimeout:        cfg.Notify.Timeout,
		}).
		WithTokenGenerator(resolution.NewProofTokenGenerator([]byte(cfg.Signing.TokenKey)))
	rt.evaluator = rt.service.Evaluator().WithConcurrency(cfg.Deadline.Concurrency)
	return rt, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close runtime: %w", err)
	}
	return nil
}
