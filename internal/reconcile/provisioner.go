package reconcile

import (
	"context"
	"os"

	"github.com/mind-engage/lti-hubsync/internal/gradebook"
)

// Provisioner applies OS-level side effects. Implementations must be
// idempotent: creating an existing user or directory is not an error.
type Provisioner interface {
	CreateUser(ctx context.Context, username string) error
	CreateDirs(ctx context.Context, dirs ...string) error
	Chown(ctx context.Context, user, group string, paths ...string) error
	Chmod(ctx context.Context, mode os.FileMode, paths ...string) error
	WriteFile(ctx context.Context, path string, data []byte, mode os.FileMode) error
	// EnableGrading turns on the grading notebook extensions for user.
	EnableGrading(ctx context.Context, user string) error
}

// Gradebook is the part of a course gradebook the engine writes to.
type Gradebook interface {
	UpdateCourse(ctx context.Context, lineItemsEndpoint string) error
	UpsertStudent(ctx context.Context, st gradebook.Student) error
}

// GradebookOpener returns the gradebook of a course.
type GradebookOpener func(ctx context.Context, courseID string) (Gradebook, error)

// PoolOpener adapts a gradebook pool.
func PoolOpener(p *gradebook.Pool) GradebookOpener {
	return func(ctx context.Context, courseID string) (Gradebook, error) {
		s, err := p.Get(ctx, courseID)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// TokenRecorder receives every grader service token issued by a run.
type TokenRecorder interface {
	RecordToken(ctx context.Context, courseID, grader, token string) error
}
