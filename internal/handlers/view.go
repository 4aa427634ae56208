package handlers

import (
	"fmt"

	"github.com/example/leaf-check/internal/classifier"
	"github.com/example/leaf-check/internal/submission"
	"github.com/example/leaf-check/internal/workflow"
)

type resultView struct {
	classifier.Result
	ConfidencePercent string `json:"confidence_percent"`
}

type snapshotView struct {
	workflow.Snapshot
	Result    *resultView `json:"result,omitempty"`
	CanSubmit bool        `json:"can_submit"`
}

type outcomeView struct {
	submission.Outcome
	Result *resultView `json:"result,omitempty"`
}

// FormatConfidence renders a confidence in [0,1] as a percentage with two
// decimals, e.g. 0.87 -> "87.00%".
func FormatConfidence(confidence float64) string {
	return fmt.Sprintf("%.2f%%", confidence*100)
}

func renderResult(result *classifier.Result) *resultView {
	if result == nil {
		return nil
	}
	return &resultView{Result: *result, ConfidencePercent: FormatConfidence(result.Confidence)}
}

func renderSnapshot(snap workflow.Snapshot) snapshotView {
	return snapshotView{
		Snapshot:  snap,
		Result:    renderResult(snap.Result),
		CanSubmit: snap.CanSubmit(),
	}
}

func renderOutcome(outcome *submission.Outcome) outcomeView {
	return outcomeView{Outcome: *outcome, Result: renderResult(outcome.Result)}
}
