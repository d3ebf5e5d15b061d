package solver

import (
	"errors"
	"fmt"
)

// Setup errors.
var (
	ErrNoGeometry  = errors.New("no geometry")
	ErrUnknownKind = errors.New("unknown boundary kind")
	ErrObjectID    = errors.New("object id out of range")
	ErrNoFluid     = errors.New("scene contains no fluid")
)

// CheckError is returned by Step when the validation layer finds an
// inconsistency. The solver state is left as it was found.
type CheckError struct {
	Step   int
	Level  int
	I, J   int
	K      int
	Reason string
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("check failed at step %d level %d (%d,%d,%d): %s", e.Step, e.Level, e.I, e.J, e.K, e.Reason)
}
