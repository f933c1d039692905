package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mr1hm/go-weather-alerts/internal/alerts"
	"github.com/mr1hm/go-weather-alerts/internal/config"
	"github.com/mr1hm/go-weather-alerts/internal/enrichment"
	"github.com/mr1hm/go-weather-alerts/internal/geocoding"
	"github.com/mr1hm/go-weather-alerts/internal/logging"
	"github.com/mr1hm/go-weather-alerts/internal/models"
	"github.com/mr1hm/go-weather-alerts/internal/repository"
)

var cfg *config.Config

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "geocode",
		Short:         "Geo-tagging tools for the weather alert service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
			return nil
		},
	}
	root.AddCommand(newLookupCmd(), newReenrichCmd(), newRetryCmd())
	return root
}

func newClient() *geocoding.Client {
	return geocoding.NewClient(geocoding.Options{
		BaseURL:   cfg.Geocoding.BaseURL,
		UserAgent: cfg.Geocoding.UserAgent,
		Timeout:   cfg.Geocoding.Timeout,
	}, geocoding.NewRateGate(cfg.Geocoding.Interval()))
}

func newLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup [location]",
		Short: "Resolve a location name to coordinates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			location := strings.Join(args, " ")
			coords, err := newClient().Lookup(cmd.Context(), location)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %.6f, %.6f\n", location, coords.Latitude, coords.Longitude)
			return nil
		},
	}
}

func newReenrichCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reenrich [alert_id]",
		Short: "Reset an alert to PENDING and geo-tag it again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := repository.Open(cfg.DB.Driver, cfg.DB.Source())
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()

			rejected, err := runBatch(cmd.Context(), db, newClient(), args)
			if err != nil {
				return err
			}
			if len(rejected) > 0 {
				return fmt.Errorf("alert %s was not accepted for enrichment", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted %s\n", args[0])
			return printAlert(cmd, db, args[0])
		},
	}
}

func newRetryCmd() *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Resubmit every alert in the given geo-tagging status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := models.GeoTaggingStatus(strings.ToUpper(status))
			if st != models.GeoTaggingPending && st != models.GeoTaggingFailed {
				return fmt.Errorf("status must be PENDING or FAILED, got %q", status)
			}

			db, err := repository.Open(cfg.DB.Driver, cfg.DB.Source())
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()

			list, err := db.List(cmd.Context(), repository.Filter{Status: &st})
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(list))
			for _, a := range list {
				ids = append(ids, a.ID)
			}

			// one client for every batch so the rate gate spans the whole run
			client := newClient()
			size := batchSize()
			var rejected []string
			for start := 0; start < len(ids); start += size {
				end := min(start+size, len(ids))
				r, err := runBatch(cmd.Context(), db, client, ids[start:end])
				if err != nil {
					return err
				}
				rejected = append(rejected, r...)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "submitted %d alerts, %d rejected\n", len(ids)-len(rejected), len(rejected))
			skipped := make(map[string]bool, len(rejected))
			for _, id := range rejected {
				skipped[id] = true
				fmt.Fprintf(out, "%s rejected, left PENDING\n", id)
			}
			for _, id := range ids {
				if skipped[id] {
					continue
				}
				if err := printAlert(cmd, db, id); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", string(models.GeoTaggingFailed), "geo-tagging status to retry (PENDING or FAILED)")
	return cmd
}

// batchSize is the number of submissions a fresh pool is guaranteed to accept:
// a full queue plus one job per transient worker.
func batchSize() int {
	return max(1, cfg.Enrichment.QueueCapacity+cfg.Enrichment.MaxWorkers-cfg.Enrichment.CoreWorkers)
}

// drainGrace is how long a batch of jobs may take: each job waits its turn at
// the rate gate and every round of workers may run into the lookup timeout.
func drainGrace(jobs int) time.Duration {
	workers := max(1, cfg.Enrichment.MaxWorkers)
	rounds := (jobs + workers - 1) / workers
	grace := time.Duration(jobs)*cfg.Geocoding.Interval() + time.Duration(rounds)*cfg.Geocoding.Timeout
	return max(grace, cfg.Enrichment.ShutdownGrace)
}

// rejectionTally submits through the manager and remembers what the pool
// turned away.
type rejectionTally struct {
	mgr      *enrichment.Manager
	rejected []string
}

func (r *rejectionTally) SubmitEnrichment(alertID string) {
	if err := r.mgr.TrySubmit(alertID); err != nil {
		r.rejected = append(r.rejected, alertID)
	}
}

// runBatch re-enriches ids on a fresh pipeline and waits for it to drain. It
// returns the ids the pool rejected; those alerts are left PENDING.
func runBatch(ctx context.Context, db repository.AlertRepository, client *geocoding.Client, ids []string) ([]string, error) {
	mgr := enrichment.NewManager(cfg.Enrichment, db, client, nil)
	mgr.Start(ctx)
	tally := &rejectionTally{mgr: mgr}
	svc := alerts.NewService(db, tally, nil)

	var submitErr error
	for _, id := range ids {
		if _, err := svc.Reenrich(ctx, id); err != nil {
			submitErr = err
			break
		}
	}

	graceCtx, cancel := context.WithTimeout(ctx, drainGrace(len(ids)))
	defer cancel()
	if err := mgr.Shutdown(graceCtx); err != nil {
		return nil, fmt.Errorf("enrichment did not finish: %w", err)
	}
	return tally.rejected, submitErr
}

func printAlert(cmd *cobra.Command, db repository.AlertRepository, id string) error {
	a, err := db.GetByID(cmd.Context(), id)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	switch a.GeoTaggingStatus {
	case models.GeoTaggingSuccess:
		fmt.Fprintf(out, "%s %s %s: %.6f, %.6f\n", a.ID, a.LocationName, a.GeoTaggingStatus, *a.Latitude, *a.Longitude)
	case models.GeoTaggingFailed:
		fmt.Fprintf(out, "%s %s %s: %s\n", a.ID, a.LocationName, a.GeoTaggingStatus, *a.GeoTaggingError)
	default:
		fmt.Fprintf(out, "%s %s %s\n", a.ID, a.LocationName, a.GeoTaggingStatus)
	}
	return nil
}
