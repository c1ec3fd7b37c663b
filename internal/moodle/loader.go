package moodle

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/mind-engage/lti-hubsync/internal/logger"
	"github.com/mind-engage/lti-hubsync/internal/normalize"
)

// Categories selects courses by Moodle category: courses in JupyterHub get
// notebooks only, courses in NbGrader also get grading.
type Categories struct {
	JupyterHub int
	NbGrader   int
}

// Loader fetches courses and their enrolments.
type Loader struct {
	Client     *Client
	BaseURL    string
	Categories *Categories
	Filters    []Filter
	// Concurrency bounds parallel enrolment requests; <= 0 means 4.
	Concurrency int
}

// LoadCourses returns the courses passing the category and field filters,
// in the order Moodle lists them.
func (l *Loader) LoadCourses(ctx context.Context) ([]Course, error) {
	log := logger.C(ctx)
	raw, err := l.Client.Courses(ctx)
	if err != nil {
		return nil, err
	}
	if l.Categories != nil {
		log.Info().Int("jupyterhub", l.Categories.JupyterHub).Int("nbgrader", l.Categories.NbGrader).
			Msg("using category id to filter courses")
	}
	out := make([]Course, 0, len(raw))
	for _, rc := range raw {
		c, err := FormatCourse(rc, l.BaseURL)
		if err != nil {
			log.Warn().Err(err).Int("id", rc.ID).Msg("skipping malformed course")
			continue
		}
		if cat := l.Categories; cat != nil {
			if c.Category != cat.JupyterHub && c.Category != cat.NbGrader {
				continue
			}
			c.Grading = c.Category == cat.NbGrader
		}
		ok, err := Match(&c, l.Filters)
		if err != nil {
			return nil, err
		}
		if !ok {
			log.Debug().Str("course", c.CourseID).Msg("course skipped by filter")
			continue
		}
		out = append(out, c)
	}
	log.Info().Int("courses", len(out)).Int("fetched", len(raw)).Msg("loaded courses")
	return out, nil
}

// LoadUsers fills the instructor, grader and student lists of every course.
// Users without a recognized role are logged and left out.
func (l *Loader) LoadUsers(ctx context.Context, courses []Course) error {
	n := l.Concurrency
	if n <= 0 {
		n = 4
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n)
	for i := range courses {
		c := &courses[i]
		g.Go(func() error {
			raw, err := l.Client.EnrolledUsers(gctx, c.ID)
			if err != nil {
				return fmt.Errorf("course %s: %w", c.CourseID, err)
			}
			assignUsers(gctx, c, raw)
			return nil
		})
	}
	return g.Wait()
}

func assignUsers(ctx context.Context, c *Course, raw []RawUser) {
	log := logger.C(ctx).With().Str("course", c.CourseID).Logger()
	log.Debug().Int("participants", len(raw)).Msg("enrolled users fetched")
	for _, ru := range raw {
		u, err := FormatUser(ru)
		if err != nil {
			log.Warn().Err(err).Int("user", ru.ID).Msg("skipping malformed user")
			continue
		}
		if len(u.Roles) == 0 {
			log.Warn().Err(ErrNoRoles).Str("user", u.Username).Msg("skipping user")
			continue
		}
		role, err := normalize.FindHighestRole(u.Roles)
		if err != nil {
			log.Warn().Err(err).Str("user", u.Username).Msg("skipping user")
			continue
		}
		u.Role = role
		group, err := normalize.UserGroup(role)
		if err != nil {
			log.Warn().Err(err).Str("user", u.Username).Msg("skipping user")
			continue
		}
		switch group {
		case normalize.GroupInstructors:
			c.Instructors = append(c.Instructors, u)
		case normalize.GroupGraders:
			c.Graders = append(c.Graders, u)
		default:
			c.Students = append(c.Students, u)
		}
	}
}

// Load runs LoadCourses then LoadUsers.
func (l *Loader) Load(ctx context.Context) ([]Course, error) {
	courses, err := l.LoadCourses(ctx)
	if err != nil {
		return nil, err
	}
	if err := l.LoadUsers(ctx, courses); err != nil {
		return nil, err
	}
	return courses, nil
}

// CategoryRow is one line of the categories listing.
type CategoryRow struct {
	Title    string
	CourseID string
	Category int
}

// CategoryRows lists every course with its category id, which is how the
// category ids for the filters are discovered.
func (l *Loader) CategoryRows(ctx context.Context) ([]CategoryRow, error) {
	raw, err := l.Client.Courses(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]CategoryRow, 0, len(raw))
	for _, rc := range raw {
		c, err := FormatCourse(rc, l.BaseURL)
		if err != nil {
			continue
		}
		rows = append(rows, CategoryRow{Title: c.Title, CourseID: c.CourseID, Category: c.Category})
	}
	return rows, nil
}
