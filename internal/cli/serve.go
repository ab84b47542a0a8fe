package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/prepspace/claimd/internal/api"
	"github.com/prepspace/claimd/internal/app/capture"
	"github.com/prepspace/claimd/internal/app/lifecycle"
	"github.com/prepspace/claimd/internal/app/refund"
	"github.com/prepspace/claimd/internal/app/sweeper"
	"github.com/prepspace/claimd/internal/daemon"
	"github.com/prepspace/claimd/internal/infra/gateway"
	"github.com/prepspace/claimd/internal/infra/ledger"
	"github.com/prepspace/claimd/internal/infra/notify"
	"github.com/prepspace/claimd/internal/infra/sqlite"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the claim engine and HTTP API",
	Long: `Start the claimd daemon: the claim REST API, the payment capture
engine, and the deadline sweeper. Runs until interrupted.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := sqlite.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	log.Printf("[claimd] store ready at %s", cfg.Storage.Path)

	gw := gateway.New(gateway.Config{
		BaseURL:       cfg.Gateway.BaseURL,
		APIKey:        cfg.Gateway.APIKey,
		FeePercentBps: cfg.Gateway.FeePercentBps,
		FeeFixedCents: cfg.Gateway.FeeFixedCents,
	})
	notifier := notify.New(notify.Config{BaseURL: cfg.Notify.BaseURL})
	ledgerSvc := ledger.New(db)

	captureEngine := capture.New(capture.Config{
		Currency: cfg.Gateway.Currency,
	}, db, gw, ledgerSvc, notifier, db)
	defer captureEngine.Wait()

	lifecycleSvc := lifecycle.New(lifecycle.Config{
		MinAmountCents:   cfg.Claims.MinAmountCents,
		MaxAmountCents:   cfg.Claims.MaxAmountCents,
		MinEvidence:      cfg.Claims.MinEvidence,
		ResponseDeadline: daemon.ParseDuration(cfg.Claims.ResponseDeadline, 72*time.Hour),
		AsyncCapture:     true,
	}, db, db, captureEngine, notifier)

	refundEngine := refund.New(db, gw, notifier)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Sweeper.Enabled {
		sw := sweeper.New(sweeper.Config{
			Interval:   daemon.ParseDuration(cfg.Sweeper.Interval, 15*time.Minute),
			BatchLimit: cfg.Sweeper.BatchLimit,
			Workers:    cfg.Sweeper.Workers,
		}, db, lifecycleSvc, captureEngine)
		go sw.Run(ctx)
	}

	server := api.NewServer(&api.ClaimAPI{
		Lifecycle: lifecycleSvc,
		Refunds:   refundEngine,
	})
	if cfg.API.Metrics {
		server.EnableMetrics()
	}

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[claimd] API listening on %s", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Printf("[claimd] shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
