package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"
)

// MockBackend produces synthetic frames. It is used in tests and on hosts
// without a camera (CAMERA_BACKEND=mock). It counts track starts and stops
// so callers can check that every handle is released.
type MockBackend struct {
	mu          sync.Mutex
	unavailable bool
	devices     []DeviceInfo
	acquireErr  error
	gate        chan struct{}
	width       int
	height      int
	noFrames    bool

	seq      int
	waiting  int
	started  int
	stopped  int
	live     int
	maxLive  int
	acquired []Facing
}

// NewMockBackend returns a backend with one user and one environment camera
// producing 640x480 frames.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		devices: []DeviceInfo{
			{ID: "mock-0", Label: "Mock front camera", Facing: FacingUser},
			{ID: "mock-1", Label: "Mock rear camera", Facing: FacingEnvironment},
		},
		width:  640,
		height: 480,
	}
}

// SetAvailable toggles whether the backend exposes a capture API.
func (m *MockBackend) SetAvailable(available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = !available
}

// SetDevices replaces the enumerated device list.
func (m *MockBackend) SetDevices(devices []DeviceInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = append([]DeviceInfo(nil), devices...)
}

// SetAcquireError makes every Acquire fail with err until reset with nil.
func (m *MockBackend) SetAcquireError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acquireErr = err
}

// SetGate makes Acquire block until gate is closed or receives a value.
// A nil gate removes the block.
func (m *MockBackend) SetGate(gate chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = gate
}

// SetFrameSize changes the size of frames produced by later streams.
func (m *MockBackend) SetFrameSize(width, height int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.width, m.height = width, height
}

// SetNoFrames makes later streams never deliver a frame.
func (m *MockBackend) SetNoFrames(noFrames bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noFrames = noFrames
}

func (m *MockBackend) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.unavailable
}

func (m *MockBackend) Enumerate(ctx context.Context) ([]DeviceInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DeviceInfo(nil), m.devices...), nil
}

func (m *MockBackend) Acquire(ctx context.Context, facing Facing) (Stream, error) {
	m.mu.Lock()
	gate := m.gate
	if gate != nil {
		m.waiting++
	}
	m.mu.Unlock()

	if gate != nil {
		var err error
		select {
		case <-gate:
		case <-ctx.Done():
			err = ctx.Err()
		}
		m.mu.Lock()
		m.waiting--
		m.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquireErr != nil {
		return nil, m.acquireErr
	}

	m.seq++
	m.started++
	m.live++
	if m.live > m.maxLive {
		m.maxLive = m.live
	}
	m.acquired = append(m.acquired, facing)

	stream := &mockStream{
		track: &mockTrack{id: fmt.Sprintf("mock-track-%d", m.seq), owner: m},
	}
	if !m.noFrames {
		stream.frame = syntheticFrame(m.width, m.height, facing)
	}
	return stream, nil
}

// Waiting is the number of Acquire calls blocked on the gate.
func (m *MockBackend) Waiting() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waiting
}

// Started is the number of tracks ever started.
func (m *MockBackend) Started() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Stopped is the number of tracks ever stopped.
func (m *MockBackend) Stopped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// Live is the number of tracks currently running.
func (m *MockBackend) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

// MaxLive is the highest number of tracks that ever ran at once.
func (m *MockBackend) MaxLive() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxLive
}

// Acquired lists the facing modes of every successful Acquire, in order.
func (m *MockBackend) Acquired() []Facing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Facing(nil), m.acquired...)
}

func (m *MockBackend) trackStopped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped++
	m.live--
}

type mockStream struct {
	track *mockTrack
	frame image.Image
}

func (s *mockStream) Tracks() []Track { return []Track{s.track} }

func (s *mockStream) Frame() (image.Image, bool) {
	if s.frame == nil || s.track.isStopped() {
		return nil, false
	}
	return s.frame, true
}

type mockTrack struct {
	id      string
	owner   *MockBackend
	once    sync.Once
	mu      sync.Mutex
	stopped bool
}

func (t *mockTrack) ID() string { return t.id }

func (t *mockTrack) Stop() {
	t.once.Do(func() {
		t.mu.Lock()
		t.stopped = true
		t.mu.Unlock()
		t.owner.trackStopped()
	})
}

func (t *mockTrack) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// syntheticFrame paints a green field with a dark band on the left so that
// mirroring is visible. User facing frames get a lighter field.
func syntheticFrame(width, height int, facing Facing) image.Image {
	field := color.NRGBA{R: 46, G: 139, B: 87, A: 255}
	if facing == FacingUser {
		field = color.NRGBA{R: 144, G: 238, B: 144, A: 255}
	}
	frame := imaging.New(width, height, field)
	band := imaging.New(width/4, height, color.NRGBA{R: 20, G: 40, B: 20, A: 255})
	return imaging.Paste(frame, band, image.Pt(0, 0))
}
