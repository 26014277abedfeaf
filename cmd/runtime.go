package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/example/court-scheduler/internal/config"
	"github.com/example/court-scheduler/internal/driver"
	"github.com/example/court-scheduler/internal/driver/chrome"
	"github.com/example/court-scheduler/internal/driver/pw"
	"github.com/example/court-scheduler/internal/events"
	"github.com/example/court-scheduler/internal/locator"
	"github.com/example/court-scheduler/internal/lock"
	"github.com/example/court-scheduler/internal/session"
	"github.com/example/court-scheduler/internal/telemetry"
)

// newRunner wires a session.Runner from the configuration. The returned
// cleanup closes the lock client and flushes traces.
func newRunner(ctx context.Context, cfg config.Config, profile *locator.Profile, logger *zap.Logger) (*session.Runner, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	shutdown, err := telemetry.Setup(ctx, "courtsched", Version, cfg.OTelEndpoint)
	if err != nil {
		return nil, cleanup, fmt.Errorf("telemetry: %w", err)
	}
	closers = append(closers, func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("flush traces", zap.Error(err))
		}
	})

	sinks := events.Multi{events.NewLogSink(logger), events.NewTraceSink()}
	if cfg.TelegramToken != "" {
		tg, err := events.NewTelegramSink(cfg.TelegramToken, cfg.TelegramChatID, logger)
		if err != nil {
			cleanup()
			return nil, func() {}, err
		}
		sinks = append(sinks, tg)
	}

	var locker lock.Locker = lock.Noop{}
	if cfg.RedisAddr != "" {
		r := lock.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.LockTTL)
		if err := r.Ping(ctx); err != nil {
			_ = r.Close()
			cleanup()
			return nil, func() {}, fmt.Errorf("redis ping: %w", err)
		}
		closers = append(closers, func() { _ = r.Close() })
		locker = r
	}

	return &session.Runner{
		Profile:  profile,
		Open:     opener(cfg, logger),
		Lock:     locker,
		Sink:     sinks,
		Logger:   logger,
		DebugDir: cfg.DebugDir,
	}, cleanup, nil
}

func opener(cfg config.Config, logger *zap.Logger) func(ctx context.Context) (driver.Driver, error) {
	return func(ctx context.Context) (driver.Driver, error) {
		logger.Debug("opening browser", zap.String("driver", cfg.Driver), zap.Bool("remote", cfg.ChromeURL != ""))
		if cfg.Driver == "playwright" {
			d, err := pw.New(ctx, pw.Options{RemoteURL: cfg.ChromeURL, Headless: cfg.Headless})
			if err != nil {
				return nil, err
			}
			return d, nil
		}
		d, err := chrome.New(ctx, chrome.Options{
			RemoteURL: cfg.ChromeURL,
			Headless:  cfg.Headless,
			Logf:      logger.Sugar().Debugf,
		})
		if err != nil {
			return nil, err
		}
		return d, nil
	}
}
