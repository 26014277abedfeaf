package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/court-scheduler/internal/config"
	"github.com/example/court-scheduler/internal/domain/booking"
)

func newBookCmd(a *app) *cobra.Command {
	var (
		date, startTime, courtType, players string
		visitors                            bool
		timeout                             time.Duration
	)

	c := &cobra.Command{
		Use:   "book",
		Short: "Book one court now; exits non-zero unless the booking is confirmed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			req, err := cfg.Request()
			if err != nil {
				return err
			}
			if date != "" {
				if req.Date, err = time.Parse(booking.DateLayout, date); err != nil {
					return fmt.Errorf("invalid --date (want YYYY-MM-DD)")
				}
			}
			if startTime != "" {
				req.StartTime = startTime
			}
			if courtType != "" {
				req.Category = courtType
			}
			if players != "" {
				req.Roster = booking.ParseRoster(players)
			}
			if cmd.Flags().Changed("visitors") {
				req.UseVisitors = visitors
			}
			if err := req.Validate(); err != nil {
				return err
			}

			profile, err := cfg.Profile()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			ctx, cancelRun := context.WithTimeout(ctx, timeout)
			defer cancelRun()

			runner, cleanup, err := newRunner(ctx, cfg, profile, a.logger)
			if err != nil {
				return err
			}
			defer cleanup()

			out := runner.Run(ctx, req)
			w := cmd.OutOrStdout()
			if out.Confirmed {
				fmt.Fprintf(w, "booked %s on %s\n", out.Slot, req.Date.Format(booking.DateLayout))
				for _, b := range out.Players {
					fmt.Fprintf(w, "  %s: %s\n", b.Field, b.Player)
				}
			}
			if len(out.Rejected) > 0 {
				fmt.Fprintf(w, "refused by the club: %v\n", out.Rejected)
			}
			return out.Err()
		},
	}

	c.Flags().StringVar(&date, "date", "", "booking date YYYY-MM-DD (default BOOKING_DATE)")
	c.Flags().StringVar(&startTime, "time", "", "slot start time HH:MM (default BOOKING_TIME)")
	c.Flags().StringVar(&courtType, "court-type", "", "court category label (default DEFAULT_COURT_TYPE)")
	c.Flags().StringVar(&players, "players", "", "comma-separated opponent names in preference order (default PLAYER_NAMES)")
	c.Flags().BoolVar(&visitors, "visitors", false, "enter visitors instead of named players (default USE_VISITORS)")
	c.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "give up on the run after this long")
	return c
}
