/**
 * @description
 * Scheduled job implementations. The only recurring job is the nightly
 * reconciliation of every member against the payment processor.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/Eldsal/eldsal-sub000/internal/config"
)

// Syncer runs a full reconciliation.
type Syncer interface {
	SyncAll(ctx context.Context) (*SyncReport, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	syncer Syncer
	logger *slog.Logger
	config config.Config
}

// NewJobs creates a new Jobs runner.
func NewJobs(syncer Syncer, logger *slog.Logger, cfg config.Config) *Jobs {
	return &Jobs{
		syncer: syncer,
		logger: logger,
		config: cfg,
	}
}

// SyncAllMembers reconciles every member with the payment processor.
func (j *Jobs) SyncAllMembers() {
	j.logger.Info("starting member sync job", "schedule", j.config.SyncJobSchedule)
	ctx := context.Background()

	report, err := j.syncer.SyncAll(ctx)
	if err != nil {
		j.logger.Error("member sync job failed", "error", err)
		return
	}

	for _, failure := range report.Failures {
		j.logger.Warn("member not synced", "failure", describeSyncFailure(failure))
	}

	j.logger.Info("member sync job finished",
		"schedule", j.config.SyncJobSchedule,
		"members", report.Members,
		"updated", report.Updated,
		"failed", len(report.Failures),
		"dummy_customers", report.DummyCustomers,
		"duration", report.FinishedAt.Sub(report.StartedAt).String(),
	)
}
