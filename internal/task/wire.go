package task

import (
	"context"
	"errors"
	"fmt"

	appconfig "marketflow/config"
	"marketflow/internal/calendar"
	"marketflow/internal/export"
	"marketflow/internal/normalize"
	"marketflow/internal/notify"
	"marketflow/internal/provider"
	"marketflow/internal/publish"
	"marketflow/internal/realtime"
	"marketflow/internal/state"
	"marketflow/internal/store"
	"marketflow/internal/universe"
	"marketflow/logger"
)

// Build assembles a Dispatcher from configuration. The returned close
// function releases the state store, the flag client and the Kafka writer.
func Build(ctx context.Context, cfg *appconfig.Config) (*Dispatcher, func() error, error) {
	log := logger.GetLogger().WithComponent("task")
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (*Dispatcher, func() error, error) {
		_ = closeAll()
		return nil, nil, err
	}

	cal, err := calendar.New(cfg.Calendar)
	if err != nil {
		return fail(fmt.Errorf("calendar: %w", err))
	}
	providers, err := provider.Build(cfg)
	if err != nil {
		return fail(fmt.Errorf("providers: %w", err))
	}
	states, err := state.Open(ctx, cfg)
	if err != nil {
		return fail(fmt.Errorf("state store: %w", err))
	}
	closers = append(closers, states.Close)

	flags, err := openFlags(ctx, cfg, &closers)
	if err != nil {
		return fail(fmt.Errorf("notification flags: %w", err))
	}

	webhook := notify.NewWebhook(cfg.Notify)
	if !webhook.Enabled() {
		log.WithEnv("WEBHOOK_URL").Warn("webhook not configured, notifications disabled")
	}

	deps := Deps{
		Config:     cfg,
		Calendar:   cal,
		States:     states,
		Bars:       store.NewCSVBarStore(cfg.Storage.DataDir),
		Providers:  providers,
		Normalizer: normalize.NewNormalizer(provider.NewSharesClient(cfg.Universe.ListURL, cfg.Universe.Timeout), normalize.Options{RequireTurnover: cfg.Fetch.RequireTurnover}),
		Notifier:   webhook,
		Guard:      notify.NewGuard(flags, webhook),
		Universe:   universe.NewRefresher(universe.NewEastmoneyLister(cfg.Universe), cfg.Universe),
		Quotes:     realtime.New(cfg.Realtime, cal.Location()),
	}

	if cfg.Kafka.Enabled {
		pub, err := publish.NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			return fail(fmt.Errorf("kafka: %w", err))
		}
		closers = append(closers, pub.Close)
		deps.Publisher = pub
	}
	if cfg.Storage.S3.Enabled {
		exp, err := export.NewS3Exporter(ctx, cfg.Storage.S3, cfg.App.Version)
		if err != nil {
			return fail(fmt.Errorf("s3 export: %w", err))
		}
		deps.Exporter = exp
	}

	log.WithFields(logger.Fields{
		"providers":     len(providers),
		"state_backend": cfg.Storage.State.Backend,
		"flag_backend":  cfg.Storage.Flags.Backend,
		"kafka":         cfg.Kafka.Enabled,
		"s3":            cfg.Storage.S3.Enabled,
	}).Info("task dependencies ready")

	return NewDispatcher(deps), closeAll, nil
}

func openFlags(ctx context.Context, cfg *appconfig.Config, closers *[]func() error) (notify.FlagStore, error) {
	switch cfg.Storage.Flags.Backend {
	case "", "file":
		return notify.NewFileFlagStore(cfg.Storage.FlagDir), nil
	case "redis":
		client, err := state.Connect(ctx, cfg.Storage.Redis.URL)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, client.Close)
		return notify.NewRedisFlagStore(client, cfg.Storage.Redis.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unknown flag backend %q", cfg.Storage.Flags.Backend)
	}
}
