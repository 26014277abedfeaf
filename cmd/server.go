package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/court-scheduler/internal/auth"
	"github.com/example/court-scheduler/internal/config"
	"github.com/example/court-scheduler/internal/db"
	"github.com/example/court-scheduler/internal/jobs"
	"github.com/example/court-scheduler/internal/migrate"
	"github.com/example/court-scheduler/internal/scheduler"
	"github.com/example/court-scheduler/internal/secret"
	"github.com/example/court-scheduler/internal/web"
)

func newServerCmd(a *app) *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the job scheduler and the status endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			logger := a.logger

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := d.Ping(ctx); err != nil {
				return fmt.Errorf("db ping: %w", err)
			}

			if migrateUp {
				if err := migrate.Up(ctx, d); err != nil {
					return err
				}
			}

			hashKey, blockKey, err := cfg.Keys()
			if err != nil {
				return err
			}
			sealer, err := secret.New(hashKey, blockKey)
			if err != nil {
				return err
			}
			profile, err := cfg.Profile()
			if err != nil {
				return err
			}
			runner, cleanup, err := newRunner(ctx, cfg, profile, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			jobRepo := jobs.NewRepo(d)

			// scheduler
			s := &scheduler.Scheduler{
				Store:    jobRepo,
				Booker:   runner,
				Secrets:  sealer,
				Interval: cfg.PollInterval(),
				Logger:   logger.Named("scheduler"),
			}

			if cfg.StatusPasswordBcrypt == "" {
				logger.Warn("STATUS_PASSWORD_BCRYPT unset; /jobs will refuse every request")
			}
			ws := &web.Server{
				Auth:   auth.Basic{User: cfg.StatusUser, PasswordHash: cfg.StatusPasswordBcrypt},
				Jobs:   jobRepo,
				Ping:   d.Ping,
				Logger: logger.Named("web"),
			}
			err = serveWithScheduler(ctx, s, func(ctx context.Context) error {
				return web.Start(ctx, cfg.ListenAddr, ws.Routes(), logger)
			})
			logger.Info("server stopped", zap.Error(err))
			return err
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")

	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}

// serveWithScheduler runs sched in the background while serve runs. Once
// serve returns, for any reason, the scheduler is stopped and waited for.
func serveWithScheduler(ctx context.Context, sched interface{ Run(context.Context) error }, serve func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sched.Run(ctx)
	}()

	err := serve(ctx)
	cancel()
	<-done
	return err
}
