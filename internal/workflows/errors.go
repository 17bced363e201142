package workflows

import (
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"

	"github.com/Kocoro-lab/rfpstudio/internal/apperrors"
	"github.com/Kocoro-lab/rfpstudio/internal/orchestrator"
)

var kindErrors = map[string]error{
	apperrors.KindValidation:         apperrors.ErrValidation,
	apperrors.KindNotFound:           apperrors.ErrNotFound,
	apperrors.KindInvalidIdentifier:  apperrors.ErrInvalidIdentifier,
	apperrors.KindTransitionRejected: apperrors.ErrTransitionRejected,
	apperrors.KindExternalService:    apperrors.ErrExternalService,
}

// StateFromError recovers the accumulated state that RecordPipelineWorkflow
// attaches to a failed commit. It returns nil when err carries none.
func StateFromError(err error) *orchestrator.State {
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) || !appErr.HasDetails() {
		return nil
	}
	var s orchestrator.State
	if appErr.Details(&s) != nil || s.RunID == "" {
		return nil
	}
	return &s
}

// TranslateError wraps a workflow failure with the matching apperrors
// sentinel so callers can classify it with errors.Is.
func TranslateError(err error) error {
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) {
		return err
	}
	if sentinel, ok := kindErrors[appErr.Type()]; ok {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return err
}
