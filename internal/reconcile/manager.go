package reconcile

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/mind-engage/lti-hubsync/internal/gradebook"
	"github.com/mind-engage/lti-hubsync/internal/logger"
	"github.com/mind-engage/lti-hubsync/internal/metrics"
	"github.com/mind-engage/lti-hubsync/internal/moodle"
	"github.com/mind-engage/lti-hubsync/internal/normalize"
	"github.com/mind-engage/lti-hubsync/internal/storage"
)

// Manager reconciles a list of courses into a State. It is not safe for
// concurrent runs; Sync serialises runs through a lock file.
type Manager struct {
	Provisioner Provisioner
	// Gradebooks may be nil, in which case no gradebook is written.
	Gradebooks GradebookOpener
	Tokens     TokenRecorder
	Filters    []moodle.Filter
	HomeRoot   string
	Metrics    *metrics.Metrics
	// Rand is the token entropy source; nil means crypto/rand.
	Rand io.Reader
}

// Target is the generated hub config.
type Target struct {
	Path     string
	Base     string
	Renderer Renderer
}

// Sync reconciles courses and writes the hub config. When ctx is cancelled
// mid-run the provisioning already applied is kept and the config is left
// untouched; the returned error is then ctx.Err().
func (m *Manager) Sync(ctx context.Context, courses []moodle.Course, t Target) (*State, error) {
	lock, err := AcquireLock(t.Path + ".lock")
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	start := time.Now()
	defer func() { m.Metrics.SyncDuration(time.Since(start).Seconds()) }()

	st, err := m.Reconcile(ctx, courses)
	if err != nil {
		return st, err
	}
	var buf bytes.Buffer
	if err := t.Renderer.Render(&buf, t.Base, st); err != nil {
		return st, err
	}
	log := logger.C(ctx)
	if _, err := os.Stat(t.Path); err == nil {
		log.Warn().Str("path", t.Path).Msg("overwriting hub config")
	}
	if err := storage.WriteFile(t.Path, &buf, 0o644); err != nil {
		return st, fmt.Errorf("reconcile: write %s: %w", t.Path, err)
	}
	log.Info().Str("path", t.Path).Int("admins", len(st.AdminUsers)).Int("users", len(st.Whitelist)).
		Int("services", len(st.Services)).Msg("hub config updated")
	return st, nil
}

// Reconcile applies courses in order. Filtered-out courses are skipped and
// logged. Per-course and per-user failures are logged and the run moves on.
func (m *Manager) Reconcile(ctx context.Context, courses []moodle.Course) (*State, error) {
	st := NewState()
	seen := map[string]struct{}{}
	log := logger.C(ctx)

	index := 0
	for _, c := range courses {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		ok, err := moodle.Match(&c, m.Filters)
		if err != nil {
			return st, err
		}
		if !ok {
			log.Info().Str("course", c.CourseID).Msg("course filtered out")
			m.Metrics.Course("skipped")
			continue
		}
		err = m.loadCourse(ctx, st, seen, c, index)
		index++
		st.Courses++
		m.Metrics.Course(metrics.Result(err))
		if err != nil {
			st.Failures++
			log.Error().Err(err).Str("course", c.CourseID).Msg("course sync failed")
		}
	}
	return st, nil
}

func (m *Manager) loadCourse(ctx context.Context, st *State, seen map[string]struct{}, c moodle.Course, index int) error {
	cid, err := normalize.FormatString(c.CourseID)
	if err != nil {
		return fmt.Errorf("course %d: %w", c.ID, err)
	}
	log := logger.C(ctx).With().Str("course", cid).Logger()
	grader := gradebook.GraderName(cid)

	for _, u := range c.Instructors {
		if u.Username != "" {
			st.AdminUsers[u.Username] = struct{}{}
		}
	}
	st.AdminUsers[grader] = struct{}{}

	var gb Gradebook
	if c.Grading {
		token, err := NewToken(m.Rand)
		if err != nil {
			return err
		}
		st.Tokens[token] = grader
		st.Services = append(st.Services, NewService(cid, grader, token, m.HomeRoot, index))
		st.Groups[FormgradeGroup(cid)] = []string{grader}
		st.Groups[NbgraderGroup(cid)] = []string{}
		if m.Tokens != nil {
			if err := m.Tokens.RecordToken(ctx, cid, grader, token); err != nil {
				log.Warn().Err(err).Msg("token not recorded")
			}
		}
		seen[grader] = struct{}{}
		layout := NewGraderLayout(m.HomeRoot, cid)
		err = prepareGrader(ctx, m.Provisioner, layout)
		if err == nil {
			gb = m.openGradebook(ctx, &log, cid, c.LMSLineItemsEndpoint)
			err = handOverGrader(ctx, m.Provisioner, layout)
		}
		m.Metrics.Provision("grader", metrics.Result(err))
		if err != nil {
			st.Failures++
			log.Error().Err(err).Str("user", grader).Msg("grader provisioning failed")
		}
		st.Whitelist[grader] = struct{}{}
	}

	for _, u := range c.Users() {
		m.addUser(ctx, &log, st, seen, cid, gb, u)
	}
	return nil
}

func (m *Manager) openGradebook(ctx context.Context, log *zerolog.Logger, cid, endpoint string) Gradebook {
	if m.Gradebooks == nil {
		return nil
	}
	gb, err := m.Gradebooks(ctx, cid)
	if err != nil {
		log.Error().Err(err).Msg("gradebook unavailable")
		return nil
	}
	if err := gb.UpdateCourse(ctx, endpoint); err != nil {
		log.Error().Err(err).Msg("gradebook course update failed")
	}
	return gb
}

func (m *Manager) addUser(ctx context.Context, log *zerolog.Logger, st *State, seen map[string]struct{}, cid string, gb Gradebook, u moodle.User) {
	if u.Username == "" {
		log.Warn().Int("moodle_id", u.ID).Msg("user without username skipped")
		return
	}
	role := u.Role
	if role == "" {
		r, err := normalize.FindHighestRole(u.Roles)
		if err != nil {
			log.Warn().Err(err).Str("user", u.Username).Msg("user skipped")
			return
		}
		role = r
	}
	group, err := normalize.UserGroup(role)
	if err != nil {
		log.Warn().Err(err).Str("user", u.Username).Msg("user skipped")
		return
	}

	st.Whitelist[u.Username] = struct{}{}
	if group != normalize.GroupStudents {
		st.Groups[FormgradeGroup(cid)] = append(st.Groups[FormgradeGroup(cid)], u.Username)
	} else {
		st.Groups[NbgraderGroup(cid)] = append(st.Groups[NbgraderGroup(cid)], u.Username)
		if gb != nil {
			err := gb.UpsertStudent(ctx, gradebook.Student{
				ID:        u.Username,
				LMSUserID: strconv.Itoa(u.ID),
				FirstName: u.FirstName,
				LastName:  u.LastName,
				Email:     u.Email,
			})
			if err != nil {
				log.Error().Err(err).Str("user", u.Username).Msg("gradebook student update failed")
			}
		}
	}

	if _, ok := seen[u.Username]; ok {
		return
	}
	seen[u.Username] = struct{}{}
	err = m.Provisioner.CreateUser(ctx, u.Username)
	m.Metrics.Provision("user", metrics.Result(err))
	if err != nil {
		st.Failures++
		log.Error().Err(err).Str("user", u.Username).Msg("user provisioning failed")
	}
}
