package workflow

import (
	"github.com/example/leaf-check/internal/camera"
	"github.com/example/leaf-check/internal/classifier"
	"github.com/example/leaf-check/internal/media"
)

// Phase is the top level state of the workflow.
type Phase string

const (
	PhaseEmpty      Phase = "empty"
	PhasePreviewing Phase = "previewing"
	PhaseSubmitting Phase = "submitting"
	PhaseResult     Phase = "result"
	PhaseFailed     Phase = "failed"
)

// CameraState is the camera dialog sub-state.
type CameraState struct {
	Open    bool          `json:"open"`
	Loading bool          `json:"loading"`
	Facing  camera.Facing `json:"facing"`
	Error   string        `json:"error,omitempty"`
}

// ErrorInfo describes a failed submission.
type ErrorInfo struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code,omitempty"`
}

// Snapshot is an immutable view of the workflow. Version increases with
// every change. Busy is set while a submission holds the slot, including one
// whose outcome will be discarded.
type Snapshot struct {
	Version        uint64             `json:"version"`
	Phase          Phase              `json:"phase"`
	Asset          *media.Info        `json:"asset,omitempty"`
	SubmissionID   string             `json:"submission_id,omitempty"`
	Result         *classifier.Result `json:"result,omitempty"`
	Error          *ErrorInfo         `json:"error,omitempty"`
	Notice         string             `json:"notice,omitempty"`
	Busy           bool               `json:"busy"`
	ReauthRequired bool               `json:"reauth_required"`
	Camera         CameraState        `json:"camera"`
}

// CanSubmit reports whether Submit would start a request.
func (s Snapshot) CanSubmit() bool {
	return s.Asset != nil && !s.Busy && s.Phase != PhaseSubmitting
}
