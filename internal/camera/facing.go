package camera

import "fmt"

// Facing is the direction a camera points relative to the user.
type Facing string

const (
	FacingUser        Facing = "user"
	FacingEnvironment Facing = "environment"
)

// DefaultFacing is used when no facing has been requested yet.
const DefaultFacing = FacingEnvironment

// Valid reports whether f is one of the known facing modes.
func (f Facing) Valid() bool {
	return f == FacingUser || f == FacingEnvironment
}

// Toggle returns the opposite facing mode.
func (f Facing) Toggle() Facing {
	if f == FacingUser {
		return FacingEnvironment
	}
	return FacingUser
}

// ParseFacing converts s into a Facing. The empty string yields DefaultFacing.
func ParseFacing(s string) (Facing, error) {
	if s == "" {
		return DefaultFacing, nil
	}
	f := Facing(s)
	if !f.Valid() {
		return "", fmt.Errorf("camera: unknown facing mode %q", s)
	}
	return f, nil
}
