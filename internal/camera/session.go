package camera

import (
	"image"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Session is an open camera. It exclusively owns its stream until closed.
type Session struct {
	id     string
	facing Facing
	stream Stream

	once   sync.Once
	closed atomic.Bool
}

func newSession(facing Facing, stream Stream) *Session {
	return &Session{
		id:     uuid.NewString(),
		facing: facing,
		stream: stream,
	}
}

func (s *Session) ID() string     { return s.id }
func (s *Session) Facing() Facing { return s.facing }

// IsActive reports whether the session still holds its device.
func (s *Session) IsActive() bool {
	return s != nil && !s.closed.Load()
}

// Frame returns the latest frame of an active session.
func (s *Session) Frame() (image.Image, bool) {
	if !s.IsActive() {
		return nil, false
	}
	return s.stream.Frame()
}

// close stops every track exactly once.
func (s *Session) close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.closed.Store(true)
		for _, track := range s.stream.Tracks() {
			track.Stop()
		}
	})
}
