package classifier

import (
	"context"
	"fmt"

	"github.com/example/leaf-check/internal/media"
)

// Result is a single plant disease prediction.
type Result struct {
	DiseaseName              string   `json:"disease_name"`
	Confidence               float64  `json:"confidence"`
	Description              string   `json:"description"`
	TreatmentRecommendations []string `json:"treatment_recommendations"`
	PreventiveMeasures       []string `json:"preventive_measures"`
}

// Validate checks that the prediction is usable.
func (r *Result) Validate() error {
	if r.DiseaseName == "" {
		return fmt.Errorf("prediction has no disease name")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", r.Confidence)
	}
	return nil
}

// Client exposes the prediction call used by the submission flow.
type Client interface {
	Predict(ctx context.Context, asset *media.Asset, token string) (*Result, error)
}
