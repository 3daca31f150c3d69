// Package outcome records the real-world result of pursuing a match.
package outcome

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/capture-cli/internal/model"
)

// Writer persists outcomes.
type Writer interface {
	UpsertOutcome(ctx context.Context, o model.Outcome) error
}

// Recorder validates and stores outcomes. Recording an outcome never
// touches scores or matches.
type Recorder struct {
	w   Writer
	now func() time.Time
}

// NewRecorder creates a Recorder.
func NewRecorder(w Writer) *Recorder {
	return &Recorder{w: w, now: time.Now}
}

// Record upserts o on (opportunity_id, contractor_id). A later call for the
// same pair replaces the earlier outcome.
func (r *Recorder) Record(ctx context.Context, o model.Outcome) (model.Outcome, error) {
	o.OpportunityID = strings.TrimSpace(o.OpportunityID)
	o.ContractorID = strings.ToUpper(strings.TrimSpace(o.ContractorID))
	o.LossReason = strings.TrimSpace(o.LossReason)

	if err := Validate(o); err != nil {
		return o, err
	}
	if o.RecordedAt.IsZero() {
		o.RecordedAt = r.now().UTC()
	}

	if err := r.w.UpsertOutcome(ctx, o); err != nil {
		return o, eris.Wrap(err, "outcome: record")
	}

	zap.L().With(zap.String("component", "outcome")).Info("outcome: recorded",
		zap.String("opportunity_id", o.OpportunityID),
		zap.String("contractor_id", o.ContractorID),
		zap.Bool("submitted", o.Submitted),
		zap.Bool("won", o.Won),
	)
	return o, nil
}

// ValidationError lists every problem found in an outcome.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "outcome: " + strings.Join(e.Problems, "; ")
}

// Validate checks that both identifiers are present. Nothing else about an
// outcome is constrained.
func Validate(o model.Outcome) error {
	var errs []string
	if strings.TrimSpace(o.OpportunityID) == "" {
		errs = append(errs, "opportunity_id is required")
	}
	if strings.TrimSpace(o.ContractorID) == "" {
		errs = append(errs, "contractor_id is required")
	}
	if len(errs) > 0 {
		return &ValidationError{Problems: errs}
	}
	return nil
}
