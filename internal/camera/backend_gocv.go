//go:build gocv

package camera

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// gocvBackend reads frames from V4L/AVFoundation devices through OpenCV.
type gocvBackend struct {
	cfg    BackendConfig
	logger *zap.Logger
}

func newGoCVBackend(cfg BackendConfig, logger *zap.Logger) (Backend, error) {
	if cfg.ProbeLimit <= 0 {
		cfg.ProbeLimit = DefaultBackendConfig().ProbeLimit
	}
	return &gocvBackend{cfg: cfg, logger: logger}, nil
}

func (b *gocvBackend) Available() bool { return true }

// Enumerate probes device indices below ProbeLimit.
func (b *gocvBackend) Enumerate(ctx context.Context) ([]DeviceInfo, error) {
	var devices []DeviceInfo
	for idx := 0; idx < b.cfg.ProbeLimit; idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vc, err := gocv.OpenVideoCapture(idx)
		if err != nil {
			continue
		}
		if vc.IsOpened() {
			info := DeviceInfo{ID: fmt.Sprintf("%d", idx), Label: fmt.Sprintf("video%d", idx)}
			switch idx {
			case b.cfg.UserDevice:
				info.Facing = FacingUser
			case b.cfg.EnvironmentDevice:
				info.Facing = FacingEnvironment
			}
			devices = append(devices, info)
		}
		vc.Close()
	}
	return devices, nil
}

// Acquire opens the device mapped to facing, falling back to the other one
// the way a browser treats facingMode as a preference.
func (b *gocvBackend) Acquire(ctx context.Context, facing Facing) (Stream, error) {
	preferred, fallback := b.cfg.EnvironmentDevice, b.cfg.UserDevice
	if facing == FacingUser {
		preferred, fallback = fallback, preferred
	}

	var lastErr error
	for _, idx := range []int{preferred, fallback} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vc, err := gocv.OpenVideoCapture(idx)
		if err != nil {
			lastErr = err
			continue
		}
		if !vc.IsOpened() {
			vc.Close()
			lastErr = fmt.Errorf("device %d did not open", idx)
			continue
		}
		if b.cfg.Width > 0 && b.cfg.Height > 0 {
			vc.Set(gocv.VideoCaptureFrameWidth, float64(b.cfg.Width))
			vc.Set(gocv.VideoCaptureFrameHeight, float64(b.cfg.Height))
		}
		b.logger.Info("opened video device", zap.Int("device", idx), zap.String("facing", string(facing)))
		return startGoCVStream(vc, idx, b.logger), nil
	}
	// OpenCV reports a device it may not access the same way as one held by
	// another process, so permission failures surface as ErrDeviceBusy.
	return nil, &DeviceError{Kind: ErrDeviceBusy, Facing: facing, Err: lastErr}
}

type gocvStream struct {
	track *gocvTrack

	mu     sync.RWMutex
	latest image.Image
}

func startGoCVStream(vc *gocv.VideoCapture, idx int, logger *zap.Logger) *gocvStream {
	s := &gocvStream{}
	s.track = &gocvTrack{
		id:   fmt.Sprintf("video%d", idx),
		vc:   vc,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.readLoop(logger)
	return s
}

func (s *gocvStream) readLoop(logger *zap.Logger) {
	defer close(s.track.done)

	mat := gocv.NewMat()
	defer mat.Close()

	for {
		select {
		case <-s.track.stop:
			return
		default:
		}

		if ok := s.track.vc.Read(&mat); !ok || mat.Empty() {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		img, err := mat.ToImage()
		if err != nil {
			logger.Debug("frame conversion failed", zap.Error(err))
			continue
		}
		s.mu.Lock()
		s.latest = img
		s.mu.Unlock()
	}
}

func (s *gocvStream) Tracks() []Track { return []Track{s.track} }

func (s *gocvStream) Frame() (image.Image, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.latest != nil
}

type gocvTrack struct {
	id   string
	vc   *gocv.VideoCapture
	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func (t *gocvTrack) ID() string { return t.id }

// Stop ends the read loop and releases the device.
func (t *gocvTrack) Stop() {
	t.once.Do(func() {
		close(t.stop)
		<-t.done
		t.vc.Close()
	})
}
