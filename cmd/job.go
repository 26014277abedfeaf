package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/court-scheduler/internal/config"
	"github.com/example/court-scheduler/internal/db"
	"github.com/example/court-scheduler/internal/domain/booking"
	"github.com/example/court-scheduler/internal/jobs"
	"github.com/example/court-scheduler/internal/migrate"
	"github.com/example/court-scheduler/internal/secret"
)

func newJobCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage scheduled booking jobs",
	}
	cmd.AddCommand(newJobCreateCmd(a))
	cmd.AddCommand(newJobListCmd(a))
	return cmd
}

func newJobCreateCmd(a *app) *cobra.Command {
	var (
		name            string
		username        string
		players         string
		visitors        bool
		courtType       string
		courtDate       string
		startTime       string
		timezone        string
		daysOut         int
		releaseTime     string
		leadMinutes     int
		windowMinutes   int
		intervalSeconds int
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Create a job that retries a booking around the date's release time",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			if username == "" {
				username = cfg.Username
			}
			if cfg.Password == "" {
				return fmt.Errorf("COURT_PASSWORD is required to create a job")
			}
			if players == "" {
				players = cfg.PlayerNames
			}
			if courtType == "" {
				courtType = cfg.CourtType
			}

			hashKey, blockKey, err := cfg.Keys()
			if err != nil {
				return err
			}
			sealer, err := secret.New(hashKey, blockKey)
			if err != nil {
				return err
			}
			sealed, err := sealer.Seal(username, cfg.Password)
			if err != nil {
				return err
			}

			cd, err := time.Parse(booking.DateLayout, courtDate)
			if err != nil {
				return fmt.Errorf("invalid --date (want YYYY-MM-DD)")
			}
			loc, err := time.LoadLocation(timezone)
			if err != nil {
				return fmt.Errorf("invalid --timezone: %w", err)
			}
			windowStart, windowEnd, err := jobs.Window(cd, daysOut, releaseTime, loc,
				time.Duration(leadMinutes)*time.Minute, time.Duration(windowMinutes)*time.Minute)
			if err != nil {
				return fmt.Errorf("invalid --release-time: %w", err)
			}

			j := jobs.Job{
				Name:           name,
				Username:       username,
				PasswordSealed: sealed,
				Players:        booking.ParseRoster(players),
				UseVisitors:    visitors || cfg.UseVisitors,
				CourtType:      courtType,
				CourtDate:      cd,
				StartTime:      startTime,
				WindowStartAt:  windowStart,
				WindowEndAt:    windowEnd,
				IntervalSec:    intervalSeconds,
			}
			if err := j.Validate(); err != nil {
				return err
			}

			ctx := context.Background()
			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			if err := migrate.Up(ctx, d); err != nil {
				return err
			}

			id, err := jobs.NewRepo(d).Create(ctx, j)
			if err != nil {
				return err
			}
			a.logger.Debug("job created", zap.Int64("job_id", id))
			fmt.Fprintf(cmd.OutOrStdout(), "created job id=%d window_start_utc=%s window_end_utc=%s\n",
				id, windowStart.Format(time.RFC3339), windowEnd.Format(time.RFC3339))
			return nil
		},
	}

	c.Flags().StringVar(&name, "name", "", "job name")
	c.Flags().StringVar(&username, "username", "", "club login (default COURT_USERNAME); the password comes from COURT_PASSWORD")
	c.Flags().StringVar(&players, "players", "", "comma-separated opponent names (default PLAYER_NAMES)")
	c.Flags().BoolVar(&visitors, "visitors", false, "enter visitors instead of named players")
	c.Flags().StringVar(&courtType, "court-type", "", "court category label (default DEFAULT_COURT_TYPE)")
	c.Flags().StringVar(&courtDate, "date", "", "date to play YYYY-MM-DD")
	c.Flags().StringVar(&startTime, "time", "", "slot start time HH:MM")
	c.Flags().StringVar(&timezone, "timezone", "Europe/London", "club timezone used for window math")
	c.Flags().IntVar(&daysOut, "days-out", 7, "days in advance when the club releases the date")
	c.Flags().StringVar(&releaseTime, "release-time", "07:00", "local release time HH:MM")
	c.Flags().IntVar(&leadMinutes, "lead-minutes", 2, "start attempts N minutes before release time")
	c.Flags().IntVar(&windowMinutes, "window-minutes", 20, "keep attempting N minutes after release time")
	c.Flags().IntVar(&intervalSeconds, "interval-seconds", 30, "seconds between attempts")

	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("date")
	_ = c.MarkFlagRequired("time")
	return c
}

func newJobListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			ctx := context.Background()
			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()

			js, err := jobs.NewRepo(d).List(ctx)
			if err != nil {
				return err
			}
			a.logger.Debug("jobs listed", zap.Int("count", len(js)))
			for _, j := range js {
				fmt.Fprintf(cmd.OutOrStdout(), "id=%d name=%q status=%s date=%s time=%s window=%s..%s players=%s\n",
					j.ID, j.Name, j.Status, j.CourtDate.Format(booking.DateLayout), j.StartTime,
					j.WindowStartAt.Format(time.RFC3339), j.WindowEndAt.Format(time.RFC3339), strings.Join(j.Players, ","))
			}
			return nil
		},
	}
}
