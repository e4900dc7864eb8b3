package services

import (
	"context"

	"github.com/trialware/diarysync/internal/client/client"
	"github.com/trialware/diarysync/internal/client/repositories/metadata"
	"github.com/trialware/diarysync/internal/conflict"
	"github.com/trialware/diarysync/internal/integrity"
	"github.com/trialware/diarysync/internal/logging"
)

// Sweeper periodically re-verifies every local hash chain. Tampering with
// the local database does not go unnoticed past the next sweep.
type Sweeper struct {
	repos    *client.Repositories
	notifier Notifier
	logger   logging.Logger
}

func NewSweeper(repos *client.Repositories, notifier Notifier, logger logging.Logger) *Sweeper {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &Sweeper{
		repos:    repos,
		notifier: notifier,
		logger:   logger.With("module", "sweeper"),
	}
}

// SweepAll verifies the chain of every aggregate with confirmed events and
// returns the reports of the ones that failed. Each failure freezes the
// aggregate for review and leaves an integrity-alert conflict record.
func (s *Sweeper) SweepAll(ctx context.Context) ([]integrity.Report, error) {
	aggregates, err := s.repos.Events.Aggregates(ctx)
	if err != nil {
		return nil, err
	}
	var failed []integrity.Report
	for _, aggregateID := range aggregates {
		report, err := s.SweepOne(ctx, aggregateID)
		if err != nil {
			return failed, err
		}
		if !report.OK() {
			failed = append(failed, report)
		}
	}
	return failed, nil
}

// SweepOne verifies a single aggregate's chain.
func (s *Sweeper) SweepOne(ctx context.Context, aggregateID string) (integrity.Report, error) {
	chain, err := s.repos.Events.EventsFor(ctx, aggregateID, 1)
	if err != nil {
		return integrity.Report{AggregateID: aggregateID}, err
	}
	report := integrity.VerifyChain(aggregateID, chain)
	if report.OK() {
		return report, nil
	}

	s.logger.Error(ctx, "chain verification failed",
		"aggregate_id", aggregateID,
		"sequence", report.Mismatch.Sequence,
		"reason", report.Mismatch.Reason)

	rec := conflict.NewRecord(aggregateID, report.Mismatch.Sequence, report.Mismatch.Sequence,
		conflict.LockedMismatch, conflict.ActionIntegrityAlerted)
	rec.Detail = report.Mismatch.Reason
	if err := s.repos.Conflicts.Insert(ctx, rec); err != nil {
		return report, err
	}
	if err := s.repos.Metadata.Set(ctx, metadata.KeyReviewHoldPrefix+aggregateID, []byte(rec.ID)); err != nil {
		return report, err
	}
	s.notifier.Notify(ctx, aggregateID, "a record integrity issue needs investigator review")
	return report, nil
}
