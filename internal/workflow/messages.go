package workflow

import (
	"errors"

	"github.com/example/leaf-check/internal/camera"
	"github.com/example/leaf-check/internal/capture"
	"github.com/example/leaf-check/internal/imagesource"
	"github.com/example/leaf-check/internal/submission"
)

func cameraMessage(err error) string {
	switch {
	case errors.Is(err, camera.ErrUnsupported):
		return "Camera is not supported on this device."
	case errors.Is(err, camera.ErrNoDevice):
		return "No camera found on this device."
	case errors.Is(err, camera.ErrPermissionDenied):
		return "Camera access was denied. Please allow camera access and try again."
	case errors.Is(err, camera.ErrDeviceBusy):
		return "Camera is in use by another application."
	case errors.Is(err, capture.ErrNoFrame):
		return "Unable to capture image. Please try again."
	default:
		return "Unable to access camera. Please try again."
	}
}

func validationMessage(err error) string {
	switch {
	case errors.Is(err, imagesource.ErrMultipleFiles):
		return "Please select only one image."
	case errors.Is(err, imagesource.ErrUnsupportedType):
		return "Please select a JPEG or PNG image."
	case errors.Is(err, imagesource.ErrNoFile):
		return "Please select an image."
	default:
		return "Unable to read the selected file."
	}
}

func submissionError(err error) *ErrorInfo {
	var subErr *submission.Error
	if errors.As(err, &subErr) {
		info := &ErrorInfo{Message: subErr.Message, StatusCode: subErr.StatusCode}
		switch subErr.Kind {
		case submission.ErrUnauthorized:
			info.Kind = "unauthorized"
		case submission.ErrServerError:
			info.Kind = "server_error"
		case submission.ErrAlreadyInFlight:
			info.Kind = "already_in_flight"
		default:
			info.Kind = "network_failure"
		}
		return info
	}
	return &ErrorInfo{Kind: "unknown", Message: submission.MessageGeneric}
}

// ErrorMessage returns the user facing text for an error returned by a
// Workflow operation.
func ErrorMessage(err error) string {
	var (
		validationErr *imagesource.ValidationError
		subErr        *submission.Error
	)
	switch {
	case errors.Is(err, ErrCameraNotOpen):
		return "Camera is not open."
	case errors.Is(err, ErrClosed), errors.Is(err, camera.ErrClosed):
		return "Service is shutting down."
	case errors.Is(err, camera.ErrSuperseded):
		return "Camera request was replaced by a newer one."
	case errors.As(err, &validationErr):
		return validationMessage(err)
	case errors.As(err, &subErr):
		return subErr.Message
	default:
		return cameraMessage(err)
	}
}
