// Package workflow composes camera, capture, file selection and submission
// into the observable predict state machine:
//
//	Empty -> Previewing -> Submitting -> Result | Failed
//
// Result and Failed go back to Previewing when a new image is chosen and
// Reset returns to Empty. The camera dialog is an orthogonal sub-state.
package workflow

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/example/leaf-check/internal/camera"
	"github.com/example/leaf-check/internal/capture"
	"github.com/example/leaf-check/internal/classifier"
	"github.com/example/leaf-check/internal/imagesource"
	"github.com/example/leaf-check/internal/logging"
	"github.com/example/leaf-check/internal/media"
	"github.com/example/leaf-check/internal/submission"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("workflow closed")
	// ErrCameraNotOpen is returned by Switch and Capture without an open camera.
	ErrCameraNotOpen = errors.New("camera is not open")
)

// Cameras is the device controller used by the workflow.
type Cameras interface {
	Open(ctx context.Context, facing camera.Facing) (*camera.Session, error)
	Close(session *camera.Session)
	CloseActive()
	Shutdown()
}

// Encoder turns the current camera frame into an asset.
type Encoder interface {
	Capture(src capture.FrameSource) (*media.Asset, error)
}

// Resolver validates image sources.
type Resolver interface {
	FromFiles(files []imagesource.File) (*media.Asset, error)
	FromCapture(asset *media.Asset) (*media.Asset, error)
}

// Submitter hands out the single submission slot.
type Submitter interface {
	Acquire() (*submission.Slot, error)
}

// TokenSource supplies the current bearer token.
type TokenSource interface {
	Token() string
}

// Deps groups the collaborators of a Workflow.
type Deps struct {
	Cameras   Cameras
	Encoder   Encoder
	Resolver  Resolver
	Submitter Submitter
	Tokens    TokenSource
}

// Workflow is safe for concurrent use. Device and network I/O run outside
// the state lock.
type Workflow struct {
	deps   Deps
	logger *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu             sync.Mutex
	closed         bool
	version        uint64
	assetGen       uint64
	cameraGen      uint64
	requested      camera.Facing
	phase          Phase
	asset          *media.Asset
	submissionID   string
	pending        string
	result         *classifier.Result
	errInfo        *ErrorInfo
	notice         string
	reauthRequired bool
	cam            CameraState
	session        *camera.Session
	subs           map[int]chan Snapshot
	nextSub        int
}

// New creates a workflow in the Empty phase.
func New(deps Deps, logger *zap.Logger) *Workflow {
	ctx, cancel := context.WithCancel(context.Background())
	return &Workflow{
		deps:      deps,
		logger:    logger.Named("workflow"),
		baseCtx:   ctx,
		cancel:    cancel,
		requested: camera.DefaultFacing,
		phase:     PhaseEmpty,
		cam:       CameraState{Facing: camera.DefaultFacing},
		subs:      make(map[int]chan Snapshot),
	}
}

// Snapshot returns the current state.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// Asset returns the image currently held, or nil.
func (w *Workflow) Asset() *media.Asset {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.asset
}

// SelectFiles validates a file selection. A valid single image moves the
// workflow to Previewing from any phase, superseding any pending submission
// and closing the camera dialog. Validation errors only set a notice.
func (w *Workflow) SelectFiles(files []imagesource.File) error {
	if w.isClosed() {
		return ErrClosed
	}

	asset, err := w.deps.Resolver.FromFiles(files)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		w.notice = validationMessage(err)
		w.publishLocked()
		w.mu.Unlock()
		w.logger.Info("file selection rejected", zap.Error(err))
		return err
	}

	w.detachCameraLocked()
	w.setAssetLocked(asset)
	w.publishLocked()
	w.mu.Unlock()

	w.deps.Cameras.CloseActive()
	return nil
}

// OpenCamera opens the camera dialog with the given facing mode. Device
// errors close the dialog and leave the phase and asset untouched.
func (w *Workflow) OpenCamera(ctx context.Context, facing camera.Facing) error {
	return w.openCamera(ctx, func(camera.Facing) camera.Facing { return facing })
}

// SwitchCamera reopens the camera with the opposite of the most recently
// requested facing mode.
func (w *Workflow) SwitchCamera(ctx context.Context) error {
	w.mu.Lock()
	open := w.cam.Open || w.cam.Loading
	w.mu.Unlock()
	if !open {
		return ErrCameraNotOpen
	}
	return w.openCamera(ctx, camera.Facing.Toggle)
}

func (w *Workflow) openCamera(ctx context.Context, choose func(camera.Facing) camera.Facing) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.cameraGen++
	gen := w.cameraGen
	facing := choose(w.requested)
	w.requested = facing
	w.session = nil
	w.cam = CameraState{Loading: true, Facing: facing}
	w.publishLocked()
	w.mu.Unlock()

	session, err := w.deps.Cameras.Open(ctx, facing)

	w.mu.Lock()
	if w.closed || gen != w.cameraGen {
		w.mu.Unlock()
		if session != nil {
			w.deps.Cameras.Close(session)
		}
		return camera.ErrSuperseded
	}
	if err != nil {
		if !camera.IsUserError(err) {
			w.cam = CameraState{Facing: facing}
			w.publishLocked()
			w.mu.Unlock()
			return err
		}
		w.cam = CameraState{Facing: facing, Error: cameraMessage(err)}
		w.publishLocked()
		w.mu.Unlock()
		w.logger.Warn("camera open failed", zap.String("facing", string(facing)), zap.Error(err))
		return err
	}
	w.session = session
	w.cam = CameraState{Open: true, Facing: session.Facing()}
	w.publishLocked()
	w.mu.Unlock()
	return nil
}

// CloseCamera closes the dialog and releases the device. It also cancels
// an open or capture still in flight.
func (w *Workflow) CloseCamera() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.detachCameraLocked()
	w.cam.Error = ""
	w.publishLocked()
	w.mu.Unlock()

	w.deps.Cameras.CloseActive()
	return nil
}

// Capture grabs the current camera frame. On success the workflow moves to
// Previewing with the captured image and the camera is released. On failure
// the dialog closes and the phase and asset are unchanged.
func (w *Workflow) Capture(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	session := w.session
	gen := w.cameraGen
	w.mu.Unlock()

	if session == nil {
		return ErrCameraNotOpen
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	asset, err := w.deps.Encoder.Capture(session)
	if err == nil {
		asset, err = w.deps.Resolver.FromCapture(asset)
	}

	w.mu.Lock()
	if w.closed || gen != w.cameraGen {
		w.mu.Unlock()
		return camera.ErrSuperseded
	}
	w.detachCameraLocked()
	if err != nil {
		w.cam.Error = cameraMessage(err)
		w.publishLocked()
		w.mu.Unlock()
		w.deps.Cameras.Close(session)
		w.logger.Warn("capture failed", zap.Error(err))
		return err
	}
	w.setAssetLocked(asset)
	w.publishLocked()
	w.mu.Unlock()

	w.deps.Cameras.Close(session)
	return nil
}

// Submit sends the current asset in the background and returns a channel
// closed when that submission has finished. Without an asset it is a no-op
// and returns a nil channel. While the submission slot is held it fails with
// submission.ErrAlreadyInFlight.
func (w *Workflow) Submit() (<-chan struct{}, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrClosed
	}
	if w.asset == nil {
		w.mu.Unlock()
		return nil, nil
	}
	slot, err := w.deps.Submitter.Acquire()
	if err != nil {
		w.notice = ErrorMessage(err)
		w.publishLocked()
		w.mu.Unlock()
		return nil, err
	}

	w.assetGen++
	gen := w.assetGen
	asset := w.asset
	token := w.deps.Tokens.Token()
	w.phase = PhaseSubmitting
	w.submissionID = slot.ID()
	w.pending = slot.ID()
	w.result = nil
	w.errInfo = nil
	w.notice = ""
	w.reauthRequired = false
	w.publishLocked()

	done := make(chan struct{})
	w.wg.Add(1)
	ctx := w.baseCtx
	w.mu.Unlock()

	go func() {
		defer w.wg.Done()
		defer close(done)
		result, err := slot.Submit(ctx, asset, token)
		w.complete(gen, slot.ID(), result, err)
	}()
	return done, nil
}

// complete applies a submission outcome unless a newer image, a reset or
// Close superseded it. The slot is free by now, so a stale outcome still
// publishes to re-enable submit.
func (w *Workflow) complete(gen uint64, submissionID string, result *classifier.Result, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending == submissionID {
		w.pending = ""
	}
	if w.closed {
		return
	}
	logger := logging.WithOperation(w.logger, "workflow.complete", submissionID)
	if gen != w.assetGen {
		logger.Debug("discarded stale submission outcome", zap.Error(err))
		w.publishLocked()
		return
	}

	if err != nil {
		w.phase = PhaseFailed
		w.errInfo = submissionError(err)
		w.reauthRequired = errors.Is(err, submission.ErrUnauthorized)
		logger.Info("submission failed", zap.String("kind", w.errInfo.Kind))
	} else {
		w.phase = PhaseResult
		w.result = result
		logger.Info("submission completed", zap.String("disease", result.DiseaseName))
	}
	w.publishLocked()
}

// Reset returns to Empty. A pending submission is not cancelled but its
// result is discarded.
func (w *Workflow) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.assetGen++
	w.phase = PhaseEmpty
	w.asset = nil
	w.submissionID = ""
	w.result = nil
	w.errInfo = nil
	w.notice = ""
	w.reauthRequired = false
	w.publishLocked()
	return nil
}

// Subscribe delivers snapshots, starting with the current one. Slow
// subscribers only see the latest snapshot. The returned function
// unsubscribes; Close unsubscribes everyone.
func (w *Workflow) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		close(ch)
		return ch, func() {}
	}
	id := w.nextSub
	w.nextSub++
	w.subs[id] = ch
	ch <- w.snapshotLocked()

	return ch, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if sub, ok := w.subs[id]; ok {
			delete(w.subs, id)
			close(sub)
		}
	}
}

// Close releases the camera, cancels any submission in flight and closes
// all subscriptions. It waits for background work to finish and is safe to
// call more than once.
func (w *Workflow) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.assetGen++
	w.cameraGen++
	w.session = nil
	for id, ch := range w.subs {
		delete(w.subs, id)
		close(ch)
	}
	w.mu.Unlock()

	w.cancel()
	w.deps.Cameras.Shutdown()
	w.wg.Wait()
	w.logger.Info("workflow closed")
}

func (w *Workflow) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// setAssetLocked installs a new image and supersedes anything pending.
func (w *Workflow) setAssetLocked(asset *media.Asset) {
	w.assetGen++
	w.phase = PhasePreviewing
	w.asset = asset
	w.submissionID = ""
	w.result = nil
	w.errInfo = nil
	w.notice = ""
	w.reauthRequired = false
}

// detachCameraLocked closes the dialog and invalidates in-flight camera
// requests. The caller releases the device.
func (w *Workflow) detachCameraLocked() {
	w.session = nil
	w.cameraGen++
	w.cam.Open = false
	w.cam.Loading = false
}

func (w *Workflow) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version:        w.version,
		Phase:          w.phase,
		SubmissionID:   w.submissionID,
		Notice:         w.notice,
		Busy:           w.pending != "",
		ReauthRequired: w.reauthRequired,
		Camera:         w.cam,
	}
	if w.asset != nil {
		info := w.asset.Info()
		snap.Asset = &info
	}
	if w.result != nil {
		result := *w.result
		snap.Result = &result
	}
	if w.errInfo != nil {
		errInfo := *w.errInfo
		snap.Error = &errInfo
	}
	return snap
}

// publishLocked bumps the version and hands the new snapshot to every
// subscriber, replacing any snapshot they have not read yet.
func (w *Workflow) publishLocked() {
	w.version++
	snap := w.snapshotLocked()
	for _, ch := range w.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
