package grades

import (
	"errors"
	"fmt"
)

// ErrAssignmentWithoutGrades means there is nothing to send yet.
var ErrAssignmentWithoutGrades = errors.New("grades: assignment has no grades")

// ErrNothingPosted means every score post of a send was rejected.
var ErrNothingPosted = errors.New("grades: no score was accepted by the platform")

// CriticalError halts a send: the platform or the tool setup is broken.
type CriticalError struct {
	Msg string
	Err error
}

func (e *CriticalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("grades: %s: %v", e.Msg, e.Err)
	}
	return "grades: " + e.Msg
}

func (e *CriticalError) Unwrap() error { return e.Err }

// MissingInfoError is a mapping gap between the gradebook and the LMS.
type MissingInfoError struct {
	Msg string
	Err error
}

func (e *MissingInfoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("grades: missing info: %s: %v", e.Msg, e.Err)
	}
	return "grades: missing info: " + e.Msg
}

func (e *MissingInfoError) Unwrap() error { return e.Err }
