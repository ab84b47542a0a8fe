// Package sweeper enforces the chef-response deadline: silence is
// acceptance. On a fixed interval it finds submitted claims whose
// deadline has lapsed and applies the same compound approval a chef's
// accept would, then feeds each claim to the capture engine.
//
// The sweep is idempotent by construction — a claim that already left
// `submitted` is absent from the next query and never touched twice.
// There are no per-claim cancellation semantics: if a run is
// interrupted, transitioned claims stay transitioned and the rest are
// picked up next run.
package sweeper

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/prepspace/claimd/internal/app/lifecycle"
	"github.com/prepspace/claimd/internal/domain"
	"github.com/prepspace/claimd/internal/infra/observability"
	"github.com/prepspace/claimd/internal/infra/sqlite"
)

// Config controls sweep behavior.
type Config struct {
	Interval   time.Duration // time between sweeps
	BatchLimit int           // max claims per sweep
	Workers    int           // bound on concurrent captures across distinct claims
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:   15 * time.Minute,
		BatchLimit: 200,
		Workers:    4,
	}
}

// Sweeper is the deadline enforcement job.
type Sweeper struct {
	cfg       Config
	db        *sqlite.DB
	lifecycle *lifecycle.Service
	charger   lifecycle.Charger

	// now is swapped in tests.
	now func() time.Time
}

// New creates a sweeper. The charger handles the post-approval capture;
// charges for distinct claims are independent, so they run concurrently
// bounded by cfg.Workers, while each claim sees at most one charge call.
func New(cfg Config, db *sqlite.DB, lc *lifecycle.Service, charger lifecycle.Charger) *Sweeper {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 200
	}
	return &Sweeper{cfg: cfg, db: db, lifecycle: lc, charger: charger, now: time.Now}
}

// Stats summarizes one sweep run.
type Stats struct {
	Scanned  int `json:"scanned"`
	Expired  int `json:"expired"`
	Conflict int `json:"conflict"`
	Failed   int `json:"failed"`
}

// Run executes sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	log.Printf("[sweeper] running every %s", s.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[sweeper] stopped")
			return
		case <-ticker.C:
			stats := s.RunOnce(ctx)
			if stats.Scanned > 0 {
				log.Printf("[sweeper] sweep done: scanned=%d expired=%d conflict=%d failed=%d",
					stats.Scanned, stats.Expired, stats.Conflict, stats.Failed)
			}
		}
	}
}

// RunOnce performs a single sweep. Each claim is processed
// independently — one claim's failure never aborts the sweep for the
// others.
func (s *Sweeper) RunOnce(ctx context.Context) Stats {
	start := time.Now()
	observability.SweepRuns.Inc()

	var stats Stats
	expired, err := s.db.ExpiredSubmittedClaims(s.now(), s.cfg.BatchLimit)
	if err != nil {
		log.Printf("[sweeper] query expired claims: %v", err)
		observability.SweepErrors.Inc()
		return stats
	}
	stats.Scanned = len(expired)

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.cfg.Workers)

	for i := range expired {
		claim := expired[i]
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := s.sweepClaim(ctx, claim.ID)
			mu.Lock()
			switch outcome {
			case sweepExpired:
				stats.Expired++
			case sweepConflict:
				stats.Conflict++
			case sweepFailed:
				stats.Failed++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	observability.SweepDuration.Observe(time.Since(start).Seconds())
	return stats
}

type sweepOutcome int

const (
	sweepExpired sweepOutcome = iota
	sweepConflict
	sweepFailed
)

// sweepClaim force-approves one claim and runs its capture. At most one
// charge call is issued per claim per sweep.
func (s *Sweeper) sweepClaim(ctx context.Context, claimID string) sweepOutcome {
	_, err := s.lifecycle.Expire(ctx, claimID)
	if errors.Is(err, domain.ErrConflict) {
		// A chef or admin beat us to it between query and write.
		return sweepConflict
	}
	if err != nil {
		observability.SweepErrors.Inc()
		log.Printf("[sweeper] claim %s: expire failed: %v", claimID, err)
		return sweepFailed
	}
	log.Printf("[sweeper] claim %s: auto-approved after deadline", claimID)

	if s.charger != nil {
		if err := s.charger.Capture(ctx, claimID); err != nil {
			// Charge failures land in claim state; anything surfacing
			// here is infrastructure. Either way the sweep continues.
			observability.SweepErrors.Inc()
			log.Printf("[sweeper] claim %s: capture failed: %v", claimID, err)
			return sweepFailed
		}
	}
	return sweepExpired
}
