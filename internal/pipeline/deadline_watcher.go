// Package pipeline contains the background loops that run alongside the
// API server: the deadline watcher, the event relay, and the cold-storage
// archiver.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/truthmarkets/settled/internal/domain"
)

// sweepLockKey guards the deadline sweep so only one instance runs it.
const sweepLockKey = "deadline_watcher:sweep"

// ExpiredLister returns open claims whose deadline has passed.
type ExpiredLister interface {
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Claim, error)
}

// ResolutionStarter transitions an expired claim into the resolving state.
type ResolutionStarter interface {
	BeginResolution(ctx context.Context, id string) (domain.Claim, error)
}

// DeadlineWatcher periodically scans for open claims past their deadline and
// moves them into the resolving state so attested results can land.
type DeadlineWatcher struct {
	claims    ExpiredLister
	starter   ResolutionStarter
	locks     domain.LockManager
	batchSize int
	logger    *slog.Logger
}

// NewDeadlineWatcher creates a new DeadlineWatcher. The locks argument may be
// nil for single-instance deployments, in which case no distributed lock is
// taken.
func NewDeadlineWatcher(
	claims ExpiredLister,
	starter ResolutionStarter,
	locks domain.LockManager,
	batchSize int,
	logger *slog.Logger,
) *DeadlineWatcher {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &DeadlineWatcher{
		claims:    claims,
		starter:   starter,
		locks:     locks,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "deadline_watcher")),
	}
}

// Run executes a single sweep. It drains expired claims in batches until
// none remain, transitioning each through BeginResolution. Per-claim
// failures are logged and skipped so one bad row cannot stall the sweep.
func (w *DeadlineWatcher) Run(ctx context.Context) error {
	if w.locks != nil {
		unlock, err := w.locks.Acquire(ctx, sweepLockKey, time.Minute)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				w.logger.DebugContext(ctx, "sweep already running elsewhere, skipping")
				return nil
			}
			return fmt.Errorf("deadline watcher: acquire lock: %w", err)
		}
		defer unlock()
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("deadline watcher: context cancelled: %w", err)
		}

		expired, err := w.claims.ListExpired(ctx, time.Now().UTC(), w.batchSize)
		if err != nil {
			return fmt.Errorf("deadline watcher: list expired: %w", err)
		}
		if len(expired) == 0 {
			break
		}

		moved := 0
		for _, claim := range expired {
			if _, err := w.starter.BeginResolution(ctx, claim.ID); err != nil {
				// ErrInvalidStatus means another instance beat us to it.
				if errors.Is(err, domain.ErrInvalidStatus) {
					continue
				}
				w.logger.ErrorContext(ctx, "begin resolution failed",
					slog.String("claim_id", claim.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			moved++
		}
		total += moved

		// A pass that transitioned nothing would re-list the same claims
		// forever; leave the stragglers to the next sweep.
		if moved == 0 || len(expired) < w.batchSize {
			break
		}
	}

	if total > 0 {
		w.logger.InfoContext(ctx, "deadline sweep complete", slog.Int("transitioned", total))
	}
	return nil
}

// RunLoop runs the watcher on a repeating interval until the context is
// cancelled.
func (w *DeadlineWatcher) RunLoop(ctx context.Context, interval time.Duration) error {
	// Run immediately on start.
	if err := w.Run(ctx); err != nil {
		w.logger.Error("deadline sweep failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("deadline watcher loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := w.Run(ctx); err != nil {
				w.logger.Error("deadline sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}
