package decider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xcash-fin/loanflow/internal/model"
)

// Guardrail thresholds. Either trips a forced decline regardless of what
// the model says.
const (
	gamblingDeclineTxnCount  = 3
	gamblingDeclineMaxSingle = 150.0
)

// Decider implements service.Decider on top of a completion client.
type Decider struct {
	client Client
	logger *slog.Logger
}

// New creates a Decider using the given completion client.
func New(client Client, logger *slog.Logger) *Decider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decider{client: client, logger: logger}
}

// Decide asks the model for a judgment and applies the guardrails. A
// transport failure is returned as an error; unusable model output is
// coerced to an Error judgment so the applicant still gets a record.
func (d *Decider) Decide(ctx context.Context, features model.FeatureVector, narrative string, loanAmount float64) (model.Judgment, error) {
	raw, err := d.client.Complete(ctx, systemPrompt, buildPrompt(features, narrative, loanAmount))
	if err != nil {
		return model.Judgment{}, fmt.Errorf("model request failed: %w", err)
	}

	judgment, ok := ParseJudgment(raw)
	if !ok {
		d.logger.Warn("unparseable model output", "output_bytes", len(raw))
		judgment = model.Judgment{
			Decision:  model.DecisionError,
			Rationale: "model returned unparseable output",
		}
	}

	judgment = normalizeJudgment(judgment, loanAmount)
	return applyGuardrails(judgment, features), nil
}

// normalizeJudgment reconciles the decision category with the amount field.
func normalizeJudgment(j model.Judgment, loanAmount float64) model.Judgment {
	switch j.Decision {
	case model.DecisionApproved:
		if j.ApprovedAmount == nil {
			amount := loanAmount
			j.ApprovedAmount = &amount
		}
	case model.DecisionApprovedLower:
		// A lower approval without a figure is unusable.
		if j.ApprovedAmount == nil {
			j.Decision = model.DecisionError
			j.Rationale = "model approved a lower amount without stating it"
		} else if *j.ApprovedAmount >= loanAmount && loanAmount > 0 {
			j.Decision = model.DecisionApproved
		}
	case model.DecisionDeclined, model.DecisionError:
		j.ApprovedAmount = nil
	}
	return j
}

// applyGuardrails overrides the model when gambling activity crosses the
// hard thresholds. The original rationale is preserved in the annotation so
// the review surface shows both.
func applyGuardrails(j model.Judgment, features model.FeatureVector) model.Judgment {
	g := features.Gambling
	if !g.Detected {
		return j
	}

	var reason string
	switch {
	case g.TxnCount >= gamblingDeclineTxnCount:
		reason = fmt.Sprintf("%d gambling transactions in window", g.TxnCount)
	case g.MaxSingle >= gamblingDeclineMaxSingle:
		reason = fmt.Sprintf("single gambling transaction of $%.2f", g.MaxSingle)
	default:
		// Below both thresholds: note the activity but keep the decision.
		j.Rationale = fmt.Sprintf("%s [gambling activity detected: %d txns totaling $%.2f]",
			j.Rationale, g.TxnCount, g.Total)
		return j
	}

	if j.Decision == model.DecisionError {
		// Never upgrade an error into a decline.
		return j
	}

	return model.Judgment{
		Decision: model.DecisionDeclined,
		Rationale: fmt.Sprintf("declined by gambling guardrail (%s); model said: %s %s",
			reason, j.Decision, j.Rationale),
	}
}
