package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/prepspace/claimd/internal/app/capture"
	"github.com/prepspace/claimd/internal/app/lifecycle"
	"github.com/prepspace/claimd/internal/app/sweeper"
	"github.com/prepspace/claimd/internal/daemon"
	"github.com/prepspace/claimd/internal/infra/gateway"
	"github.com/prepspace/claimd/internal/infra/ledger"
	"github.com/prepspace/claimd/internal/infra/notify"
	"github.com/prepspace/claimd/internal/infra/sqlite"
)

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().Bool("dry-run", false, "report expired claims without transitioning them")
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one deadline sweep and exit",
	Long: `Run a single pass of the deadline sweeper: find submitted claims
whose chef-response deadline has lapsed, auto-approve them, and charge
them. Useful from cron or for operational catch-up after downtime.`,
	RunE: runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	db, err := sqlite.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	if dryRun {
		expired, err := db.ExpiredSubmittedClaims(time.Now().UTC(), cfg.Sweeper.BatchLimit)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%d claim(s) past the response deadline\n", len(expired))
		for _, c := range expired {
			fmt.Fprintf(os.Stdout, "  %s  booking=%s  claimed=%d  deadline=%s\n",
				c.ID, c.BookingID, c.ClaimedAmountCents, c.ChefResponseDeadline.Format(time.RFC3339))
		}
		return nil
	}

	gw := gateway.New(gateway.Config{
		BaseURL:       cfg.Gateway.BaseURL,
		APIKey:        cfg.Gateway.APIKey,
		FeePercentBps: cfg.Gateway.FeePercentBps,
		FeeFixedCents: cfg.Gateway.FeeFixedCents,
	})
	notifier := notify.New(notify.Config{BaseURL: cfg.Notify.BaseURL})

	captureEngine := capture.New(capture.Config{
		Currency: cfg.Gateway.Currency,
	}, db, gw, ledger.New(db), notifier, db)
	defer captureEngine.Wait()

	lifecycleSvc := lifecycle.New(lifecycle.Config{
		MinAmountCents:   cfg.Claims.MinAmountCents,
		MaxAmountCents:   cfg.Claims.MaxAmountCents,
		MinEvidence:      cfg.Claims.MinEvidence,
		ResponseDeadline: daemon.ParseDuration(cfg.Claims.ResponseDeadline, 72*time.Hour),
	}, db, db, captureEngine, notifier)

	sw := sweeper.New(sweeper.Config{
		BatchLimit: cfg.Sweeper.BatchLimit,
		Workers:    cfg.Sweeper.Workers,
	}, db, lifecycleSvc, captureEngine)

	stats := sw.RunOnce(cmd.Context())
	fmt.Fprintf(os.Stdout, "sweep done: scanned=%d expired=%d conflict=%d failed=%d\n",
		stats.Scanned, stats.Expired, stats.Conflict, stats.Failed)
	return nil
}
