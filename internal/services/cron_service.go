package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/tourbooking/booking-flow/internal/models"
)

// SessionIdleTimeout is how long an untouched session is kept in memory
const SessionIdleTimeout = time.Hour

// CronService runs the scheduled background jobs
type CronService struct {
	cron       *cron.Cron
	schedule   string
	store      SnapshotStore
	sessions   *SessionRegistry
	reconciler *StatusReconciler
	feed       *NotificationFeed
	logger     *logrus.Logger
}

// NewCronService creates a new CronService. schedule accepts six-field cron
// expressions (with seconds) and descriptors such as "@every 1m".
func NewCronService(
	schedule string,
	store SnapshotStore,
	sessions *SessionRegistry,
	reconciler *StatusReconciler,
	feed *NotificationFeed,
	logger *logrus.Logger,
) *CronService {
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)),
	)

	return &CronService{
		cron:       c,
		schedule:   schedule,
		store:      store,
		sessions:   sessions,
		reconciler: reconciler,
		feed:       feed,
		logger:     logger,
	}
}

// Start schedules the jobs and runs the snapshot reconciliation once
func (s *CronService) Start(ctx context.Context) error {
	s.logger.Info("Starting cron service...")

	// Job 1: reconcile open booking snapshots with the backend
	_, err := s.cron.AddFunc(s.schedule, func() { s.reconcileSnapshotsJob(ctx) })
	if err != nil {
		return fmt.Errorf("failed to schedule snapshot reconciliation job: %w", err)
	}
	s.logger.WithField("schedule", s.schedule).Info("✓ Scheduled: Reconcile booking snapshots")

	// Job 2: drop idle sessions every 10 minutes
	_, err = s.cron.AddFunc("0 */10 * * * *", s.pruneSessionsJob)
	if err != nil {
		return fmt.Errorf("failed to schedule session prune job: %w", err)
	}
	s.logger.Info("✓ Scheduled: Prune idle sessions (every 10 minutes)")

	// Provisional statuses left by a previous run are reconciled right away
	go s.reconcileSnapshotsJob(ctx)

	s.cron.Start()
	s.logger.Info("✓ Cron service started successfully")

	return nil
}

// Stop stops all cron jobs and waits for running ones
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("✓ Cron service stopped")
}

func (s *CronService) reconcileSnapshotsJob(ctx context.Context) {
	if _, err := s.ReconcileSnapshots(ctx); err != nil {
		s.logger.WithError(err).Error("[CRON ERROR] Failed to reconcile booking snapshots")
	}
}

// ReconcileSnapshots checks every stored booking that is provisional or not yet terminal
// against the backend. A failing booking is logged and skipped; the error return is
// reserved for the store itself failing.
func (s *CronService) ReconcileSnapshots(ctx context.Context) ([]*CheckResult, error) {
	startTime := time.Now()

	snapshots, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list booking snapshots: %w", err)
	}

	results := make([]*CheckResult, 0)
	failed := 0
	for _, snapshot := range snapshots {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}

		result, err := s.reconcileSnapshot(ctx, snapshot)
		if err != nil {
			failed++
			s.logger.WithError(err).WithField("booking_id", snapshot.Key()).Warn("[CRON] Booking snapshot reconciliation failed")
			continue
		}
		if result != nil {
			results = append(results, result)
		}
	}

	if len(results) > 0 || failed > 0 {
		s.logger.WithFields(logrus.Fields{
			"snapshots":   len(snapshots),
			"checked":     len(results),
			"failed":      failed,
			"duration_ms": time.Since(startTime).Milliseconds(),
		}).Info("[CRON] Booking snapshots reconciled")
	}

	return results, nil
}

// reconcileSnapshot runs one enhanced check for snapshot. It returns nil when there was nothing to do.
func (s *CronService) reconcileSnapshot(ctx context.Context, snapshot *models.Booking) (*CheckResult, error) {
	if snapshot.Provisional == nil && snapshot.Status.IsTerminal() {
		return nil, nil
	}

	session := s.sessions.Register(snapshot)
	if session.IsProcessing() {
		s.logger.WithField("booking_id", snapshot.Key()).Debug("[CRON] Checkout in progress, skipping snapshot reconciliation")
		return nil, nil
	}

	result, err := s.reconciler.check(ctx, session, true, models.PaymentSourceReconciler)
	if err != nil {
		return nil, fmt.Errorf("failed to check booking %s: %w", snapshot.Key(), err)
	}
	if result.Current.IsTerminal() {
		s.reconciler.StopPolling(session)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": result.BookingID,
		"previous":   result.Previous,
		"current":    result.Current,
		"applied":    result.Applied,
	}).Debug("[CRON] Booking snapshot checked")

	return result, nil
}

// pruneSessionsJob drops sessions nobody looked at recently, with their notifications
func (s *CronService) pruneSessionsJob() {
	pruned := s.sessions.Prune(time.Now().Add(-SessionIdleTimeout))
	if len(pruned) == 0 {
		return
	}
	if s.feed != nil {
		s.feed.Forget(pruned...)
	}
	s.logger.WithFields(logrus.Fields{
		"pruned":    len(pruned),
		"remaining": s.sessions.Len(),
	}).Info("[CRON] Pruned idle sessions")
}
