// Package camera manages the lifecycle of a live camera: opening it with a
// facing mode, switching facing, and releasing the device.
package camera

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Controller owns at most one active Session. All methods are safe for
// concurrent use.
//
// Every request bumps a generation counter. An open that completes after a
// newer request was made closes its own handle and reports ErrSuperseded.
// Acquisitions are serialized so two device handles never coexist.
type Controller struct {
	backend Backend
	logger  *zap.Logger

	mu        sync.Mutex
	gen       uint64
	active    *Session
	requested Facing
	cancel    context.CancelFunc
	retired   []*Session
	pending   int
	closed    bool

	opMu sync.Mutex
}

// NewController creates a controller on top of backend.
func NewController(backend Backend, logger *zap.Logger) *Controller {
	return &Controller{
		backend:   backend,
		logger:    logger.Named("camera_controller"),
		requested: DefaultFacing,
	}
}

// Open starts a session with the given facing mode. Any active session is
// stopped before a new device handle is requested.
func (c *Controller) Open(ctx context.Context, facing Facing) (*Session, error) {
	if !facing.Valid() {
		return nil, fmt.Errorf("camera: unknown facing mode %q", facing)
	}
	return c.open(ctx, func(Facing) Facing { return facing })
}

// Switch reopens the camera with the opposite of the most recently requested
// facing mode, so rapid toggles converge on the last request.
func (c *Controller) Switch(ctx context.Context) (*Session, error) {
	return c.open(ctx, Facing.Toggle)
}

// SwitchFacing closes session and reopens with its opposite facing mode.
func (c *Controller) SwitchFacing(ctx context.Context, session *Session) (*Session, error) {
	if session == nil {
		return c.Switch(ctx)
	}
	return c.Open(ctx, session.Facing().Toggle())
}

func (c *Controller) open(ctx context.Context, choose func(Facing) Facing) (*Session, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.gen++
	gen := c.gen
	facing := choose(c.requested)
	c.requested = facing
	if c.cancel != nil {
		c.cancel()
	}
	reqCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.pending++
	if c.active != nil {
		c.retired = append(c.retired, c.active)
		c.active = nil
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.pending--
		if c.gen == gen {
			c.cancel = nil
		}
		c.mu.Unlock()
		cancel()
	}()

	logger := c.logger.With(zap.String("facing", string(facing)), zap.Uint64("generation", gen))

	c.opMu.Lock()
	defer c.opMu.Unlock()

	for _, prev := range c.takeRetired() {
		prev.close()
		logger.Debug("closed previous session", zap.String("session_id", prev.ID()))
	}

	if !c.isCurrent(gen) {
		return nil, c.staleErr()
	}
	if err := reqCtx.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrSuperseded
	}

	session, err := c.acquire(reqCtx, facing)

	c.mu.Lock()
	if c.gen != gen || c.closed {
		c.mu.Unlock()
		if session != nil {
			session.close()
			logger.Debug("discarded stale session", zap.String("session_id", session.ID()))
		}
		return nil, c.staleErr()
	}
	if err != nil {
		c.mu.Unlock()
		if ctx.Err() == nil && reqCtx.Err() != nil {
			return nil, ErrSuperseded
		}
		logger.Warn("camera open failed", zap.Error(err))
		return nil, err
	}
	c.active = session
	c.mu.Unlock()

	logger.Info("camera session opened", zap.String("session_id", session.ID()))
	return session, nil
}

func (c *Controller) acquire(ctx context.Context, facing Facing) (*Session, error) {
	if !c.backend.Available() {
		return nil, &DeviceError{Kind: ErrUnsupported, Facing: facing}
	}

	devices, err := c.backend.Enumerate(ctx)
	if err != nil {
		return nil, asDeviceError(facing, err)
	}
	if len(devices) == 0 {
		return nil, &DeviceError{Kind: ErrNoDevice, Facing: facing}
	}

	stream, err := c.backend.Acquire(ctx, facing)
	if err != nil {
		return nil, asDeviceError(facing, err)
	}
	return newSession(facing, stream), nil
}

// Close stops session. Closing an already closed or nil session is a no-op.
func (c *Controller) Close(session *Session) {
	if session == nil {
		return
	}
	c.mu.Lock()
	if c.active == session {
		c.active = nil
	}
	c.mu.Unlock()
	session.close()
}

// CloseActive closes the active session, if any, and cancels any open still
// in flight.
func (c *Controller) CloseActive() {
	c.mu.Lock()
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	active := c.active
	c.active = nil
	retired := c.retired
	c.retired = nil
	c.mu.Unlock()

	for _, prev := range retired {
		prev.close()
	}
	if active != nil {
		active.close()
		c.logger.Info("camera session closed", zap.String("session_id", active.ID()))
	}
}

// takeRetired hands over sessions replaced by newer requests so the caller
// holding opMu can stop them before acquiring a new handle.
func (c *Controller) takeRetired() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	retired := c.retired
	c.retired = nil
	return retired
}

// Active returns the current session or nil.
func (c *Controller) Active() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Requested returns the most recently requested facing mode.
func (c *Controller) Requested() Facing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requested
}

// Opening reports whether an open request is still in flight.
func (c *Controller) Opening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending > 0
}

// Shutdown releases the device and rejects any later Open with ErrClosed.
// It is safe to call more than once.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.CloseActive()
}

func (c *Controller) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && !c.closed
}

func (c *Controller) staleErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return ErrSuperseded
}
