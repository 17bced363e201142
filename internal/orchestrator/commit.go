package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
	"github.com/Kocoro-lab/rfpstudio/internal/lifecycle"
	"github.com/Kocoro-lab/rfpstudio/internal/lock"
	ometrics "github.com/Kocoro-lab/rfpstudio/internal/metrics"
	"github.com/Kocoro-lab/rfpstudio/internal/models"
	"github.com/Kocoro-lab/rfpstudio/internal/store"
)

// Options tune commit behaviour.
type Options struct {
	// StrictTransitions turns a rejected stage change into an error wrapping
	// apperrors.ErrTransitionRejected. Off by default.
	StrictTransitions bool `mapstructure:"strict_transitions"`
}

// Committer writes a finished run back to its record under the record lock.
type Committer struct {
	store  store.RecordStore
	locker lock.Locker
	logger *zap.Logger
	opts   Options
}

func NewCommitter(st store.RecordStore, locker lock.Locker, logger *zap.Logger, opts Options) *Committer {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Committer{store: st, locker: locker, logger: logger, opts: opts}
}

// LockKey is the locker key guarding a record.
func LockKey(recordID string) string { return "record:" + recordID }

// Commit appends the run's events to the record history and applies the
// suggested stage when the lifecycle allows it. A run without a record is
// a no-op. s.Transition is filled in whenever a stage was suggested.
func (c *Committer) Commit(ctx context.Context, s *State) error {
	if s.RecordID == "" {
		c.logger.Debug("Nothing to commit, run has no record", zap.String("run_id", s.RunID))
		return nil
	}
	release, err := c.locker.Acquire(ctx, LockKey(s.RecordID))
	if err != nil {
		return fmt.Errorf("lock record %s: %w", s.RecordID, err)
	}
	defer release()

	rec, err := c.store.FindRecord(ctx, s.RecordID)
	if err != nil {
		return fmt.Errorf("load record for commit: %w", err)
	}

	patch := models.RecordPatch{AppendHistory: s.Events}
	var outcome *TransitionOutcome
	if s.NextState != nil {
		outcome = &TransitionOutcome{From: rec.Status, To: *s.NextState}
		if lifecycle.CanTransition(rec.Status, *s.NextState) {
			outcome.Applied = true
			patch.Status = models.Ptr(*s.NextState)
		} else {
			outcome.Reason = fmt.Sprintf("%s cannot move to %s", rec.Status, *s.NextState)
		}
		ometrics.RecordTransition(string(outcome.From), string(outcome.To), outcome.Applied)
	}

	if !patch.Empty() {
		if _, err := c.store.UpdateRecord(ctx, rec.ID, patch); err != nil {
			return fmt.Errorf("save record for commit: %w", err)
		}
	}
	s.Transition = outcome

	fields := []zap.Field{
		zap.String("run_id", s.RunID),
		zap.String("record_id", rec.ID),
		zap.Int("events", len(s.Events)),
	}
	switch {
	case outcome == nil:
		c.logger.Info("Run committed", fields...)
	case outcome.Applied:
		c.logger.Info("Record advanced", append(fields, zap.String("from", string(outcome.From)), zap.String("to", string(outcome.To)))...)
	default:
		c.logger.Warn("Stage change rejected", append(fields, zap.String("reason", outcome.Reason))...)
		if c.opts.StrictTransitions {
			return fmt.Errorf("%s: %w", outcome.Reason, apperrors.ErrTransitionRejected)
		}
	}
	return nil
}
