// Package capture turns the current frame of a camera session into a JPEG
// image asset.
package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/example/leaf-check/internal/camera"
	"github.com/example/leaf-check/internal/media"
)

const (
	FileName = "camera-capture.jpg"
	MIMEType = "image/jpeg"
	Quality  = 90
)

// ErrNoFrame is returned before the first frame arrives or after the
// session was closed.
var ErrNoFrame = errors.New("no camera frame available")

// CaptureError wraps a capture failure with the facing mode of the session.
type CaptureError struct {
	Facing camera.Facing
	Err    error
}

func (e *CaptureError) Error() string {
	if e.Facing == "" {
		return fmt.Sprintf("capture: %v", e.Err)
	}
	return fmt.Sprintf("capture (%s): %v", e.Facing, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// FrameSource is satisfied by *camera.Session.
type FrameSource interface {
	Frame() (image.Image, bool)
	Facing() camera.Facing
	IsActive() bool
}

// Encoder rasterizes frames into JPEG assets.
type Encoder struct {
	quality int
	logger  *zap.Logger
}

// NewEncoder returns an encoder using JPEG quality 90.
func NewEncoder(logger *zap.Logger) *Encoder {
	return &Encoder{quality: Quality, logger: logger.Named("capture_encoder")}
}

// Capture encodes the latest frame at its native resolution. Frames from a
// user facing camera are mirrored horizontally so the stored image matches
// the preview the user saw.
func (e *Encoder) Capture(src FrameSource) (*media.Asset, error) {
	if src == nil {
		return nil, &CaptureError{Err: ErrNoFrame}
	}
	facing := src.Facing()
	if !src.IsActive() {
		return nil, &CaptureError{Facing: facing, Err: ErrNoFrame}
	}

	frame, ok := src.Frame()
	if !ok || frame == nil || frame.Bounds().Empty() {
		return nil, &CaptureError{Facing: facing, Err: ErrNoFrame}
	}

	var img image.Image = frame
	if facing == camera.FacingUser {
		img = imaging.FlipH(frame)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(e.quality)); err != nil {
		return nil, &CaptureError{Facing: facing, Err: fmt.Errorf("encode jpeg: %w", err)}
	}

	bounds := frame.Bounds()
	e.logger.Debug("frame captured",
		zap.String("facing", string(facing)),
		zap.Int("width", bounds.Dx()),
		zap.Int("height", bounds.Dy()),
		zap.Int("bytes", buf.Len()),
	)
	return media.NewAsset(buf.Bytes(), MIMEType, media.OriginCamera, FileName), nil
}
