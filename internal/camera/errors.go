package camera

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported means the backend exposes no capture capability at all.
	ErrUnsupported = errors.New("camera capture is not supported")
	// ErrNoDevice means no video input could be enumerated.
	ErrNoDevice = errors.New("no video input device found")
	// ErrPermissionDenied means access to the device was refused.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrDeviceBusy means the device exists but could not be read.
	ErrDeviceBusy = errors.New("camera is in use or unreadable")

	// ErrSuperseded is returned to a request that lost to a newer one.
	// It is not a user facing error.
	ErrSuperseded = errors.New("camera request superseded")
	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("camera controller closed")
)

// DeviceError carries the kind of device failure together with the facing
// mode that was requested and the backend error, if any.
type DeviceError struct {
	Kind   error
	Facing Facing
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("camera (%s): %v: %v", e.Facing, e.Kind, e.Err)
	}
	return fmt.Sprintf("camera (%s): %v", e.Facing, e.Kind)
}

// Unwrap exposes both the kind and the underlying cause to errors.Is.
func (e *DeviceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsUserError reports whether err should be shown to a user. Superseded
// requests and cancellations are internal outcomes.
func IsUserError(err error) bool {
	if err == nil || isContextError(err) {
		return false
	}
	return !errors.Is(err, ErrSuperseded) && !errors.Is(err, ErrClosed)
}

var deviceKinds = []error{ErrUnsupported, ErrNoDevice, ErrPermissionDenied, ErrDeviceBusy}

// asDeviceError normalizes a backend error into a *DeviceError. Context
// errors pass through unchanged and unknown failures are treated as an
// unreadable device.
func asDeviceError(facing Facing, err error) error {
	if err == nil {
		return nil
	}
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return err
	}
	if errors.Is(err, ErrSuperseded) || errors.Is(err, ErrClosed) {
		return err
	}
	if isContextError(err) {
		return err
	}
	for _, kind := range deviceKinds {
		if errors.Is(err, kind) {
			return &DeviceError{Kind: kind, Facing: facing, Err: err}
		}
	}
	return &DeviceError{Kind: ErrDeviceBusy, Facing: facing, Err: err}
}
