package camera

import (
	"context"
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"
)

// Backend kinds accepted by NewBackend.
const (
	BackendNone = "none"
	BackendMock = "mock"
	BackendGoCV = "gocv"
)

// DeviceInfo describes an enumerated video input.
type DeviceInfo struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Facing Facing `json:"facing,omitempty"`
}

// Track is one media track of a live stream.
type Track interface {
	ID() string
	// Stop releases the track. Calling it more than once is harmless.
	Stop()
}

// Stream is a live device handle.
type Stream interface {
	Tracks() []Track
	// Frame returns the most recent frame, or false if none has arrived yet.
	Frame() (image.Image, bool)
}

// Backend gives access to camera hardware.
type Backend interface {
	// Available reports whether the platform exposes a capture API.
	Available() bool
	Enumerate(ctx context.Context) ([]DeviceInfo, error)
	Acquire(ctx context.Context, facing Facing) (Stream, error)
}

// BackendConfig tunes hardware backends.
type BackendConfig struct {
	UserDevice        int
	EnvironmentDevice int
	ProbeLimit        int
	Width             int
	Height            int
}

// DefaultBackendConfig asks for 1080p from device 0 (user) and 1 (environment).
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		UserDevice:        0,
		EnvironmentDevice: 1,
		ProbeLimit:        4,
		Width:             1920,
		Height:            1080,
	}
}

// NewBackend builds the backend named by kind.
func NewBackend(kind string, cfg BackendConfig, logger *zap.Logger) (Backend, error) {
	switch kind {
	case BackendNone, "":
		return NoneBackend{}, nil
	case BackendMock:
		return NewMockBackend(), nil
	case BackendGoCV:
		return newGoCVBackend(cfg, logger.Named("camera_gocv"))
	default:
		return nil, fmt.Errorf("camera: unknown backend %q", kind)
	}
}

// NoneBackend is used on hosts without a camera API.
type NoneBackend struct{}

func (NoneBackend) Available() bool { return false }

func (NoneBackend) Enumerate(context.Context) ([]DeviceInfo, error) {
	return nil, ErrUnsupported
}

func (NoneBackend) Acquire(context.Context, Facing) (Stream, error) {
	return nil, ErrUnsupported
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
