// Package gradebook is the per-course grading database shared with the
// grader service: one sqlite file per course under the grader's home.
package gradebook

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mind-engage/lti-hubsync/internal/db"
)

var (
	ErrCourseNotFound     = errors.New("gradebook: course not found")
	ErrAssignmentNotFound = errors.New("gradebook: assignment not found")
	ErrEmptyName          = errors.New("gradebook: name is empty")
)

type Course struct {
	ID                   string
	LMSLineItemsEndpoint string
}

type Student struct {
	ID        string // hub username
	LMSUserID string
	FirstName string
	LastName  string
	Email     string
}

type Assignment struct {
	ID       int64
	Name     string
	MaxScore float64
}

// Grade is one graded submission joined with its student.
type Grade struct {
	StudentID string
	LMSUserID string
	Score     float64
}

// GraderName is the synthetic grader account of a course.
func GraderName(courseID string) string { return "grader-" + courseID }

// Path is {home}/grader-{course_id}/grader.db.
func Path(homeRoot, courseID string) string {
	return filepath.Join(homeRoot, GraderName(courseID), "grader.db")
}

// SQLStore implements the gradebook on database/sql.
type SQLStore struct {
	DB       *sql.DB
	CourseID string
}

// Open opens (creating when needed) the gradebook file at path and applies
// the schema. Ownership and mode are left to the provisioner.
func Open(ctx context.Context, path, courseID string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("gradebook: %w", err)
	}
	conn, err := db.Connect(ctx, db.DriverSQLite, db.SQLiteFileDSN(path))
	if err != nil {
		return nil, fmt.Errorf("gradebook: open %s: %w", path, err)
	}
	if err := db.Migrate(ctx, conn, schema); err != nil {
		_ = conn.Close()
		return nil, err
	}
	s := &SQLStore{DB: conn, CourseID: courseID}
	if _, err := conn.ExecContext(ctx, `INSERT INTO course (id) VALUES (?) ON CONFLICT(id) DO NOTHING`, courseID); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) Close() error { return s.DB.Close() }

// UpdateCourse stores the AGS line-items endpoint of the course.
func (s *SQLStore) UpdateCourse(ctx context.Context, lineItemsEndpoint string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO course (id, lms_lineitems_endpoint) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET lms_lineitems_endpoint=excluded.lms_lineitems_endpoint`,
		s.CourseID, lineItemsEndpoint)
	return err
}

func (s *SQLStore) Course(ctx context.Context) (Course, error) {
	var (
		c  Course
		ep sql.NullString
	)
	err := s.DB.QueryRowContext(ctx, `SELECT id, lms_lineitems_endpoint FROM course WHERE id=?`, s.CourseID).Scan(&c.ID, &ep)
	if errors.Is(err, sql.ErrNoRows) {
		return Course{}, ErrCourseNotFound
	}
	c.LMSLineItemsEndpoint = ep.String
	return c, err
}

// UpsertStudent creates the student or refreshes its LMS data.
func (s *SQLStore) UpsertStudent(ctx context.Context, st Student) error {
	if strings.TrimSpace(st.ID) == "" {
		return ErrEmptyName
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO student (id, lms_user_id, first_name, last_name, email) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			lms_user_id=excluded.lms_user_id,
			first_name=excluded.first_name,
			last_name=excluded.last_name,
			email=excluded.email`,
		st.ID, st.LMSUserID, st.FirstName, st.LastName, st.Email)
	return err
}

func (s *SQLStore) Student(ctx context.Context, id string) (Student, error) {
	var st Student
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, lms_user_id, first_name, last_name, email FROM student WHERE id=?`, id).
		Scan(&st.ID, &st.LMSUserID, &st.FirstName, &st.LastName, &st.Email)
	return st, err
}

// RegisterAssignment creates the assignment, updating max score if present.
func (s *SQLStore) RegisterAssignment(ctx context.Context, name string, maxScore float64) (Assignment, error) {
	if strings.TrimSpace(name) == "" {
		return Assignment{}, ErrEmptyName
	}
	a := Assignment{Name: name, MaxScore: maxScore}
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO assignment (name, course_id, max_score) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET max_score=excluded.max_score
		RETURNING id`, name, s.CourseID, maxScore).Scan(&a.ID)
	return a, err
}

func (s *SQLStore) Assignment(ctx context.Context, name string) (Assignment, error) {
	var a Assignment
	err := s.DB.QueryRowContext(ctx, `SELECT id, name, max_score FROM assignment WHERE name=?`, name).
		Scan(&a.ID, &a.Name, &a.MaxScore)
	if errors.Is(err, sql.ErrNoRows) {
		return Assignment{}, fmt.Errorf("%w: %s", ErrAssignmentNotFound, name)
	}
	return a, err
}

// SetGrade records the score of a student's submission.
func (s *SQLStore) SetGrade(ctx context.Context, assignment, studentID string, score float64) error {
	a, err := s.Assignment(ctx, assignment)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO submission (assignment_id, student_id, score) VALUES (?, ?, ?)
		ON CONFLICT(assignment_id, student_id) DO UPDATE SET score=excluded.score`,
		a.ID, studentID, score)
	return err
}

// AssignmentGrades returns the assignment and every graded submission.
func (s *SQLStore) AssignmentGrades(ctx context.Context, name string) (Assignment, []Grade, error) {
	a, err := s.Assignment(ctx, name)
	if err != nil {
		return Assignment{}, nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT st.id, st.lms_user_id, sub.score
		  FROM submission sub JOIN student st ON st.id = sub.student_id
		 WHERE sub.assignment_id=? AND sub.score IS NOT NULL
		 ORDER BY st.id`, a.ID)
	if err != nil {
		return a, nil, err
	}
	defer rows.Close()
	var out []Grade
	for rows.Next() {
		var g Grade
		if err := rows.Scan(&g.StudentID, &g.LMSUserID, &g.Score); err != nil {
			return a, nil, err
		}
		out = append(out, g)
	}
	return a, out, rows.Err()
}

const schema = `
CREATE TABLE IF NOT EXISTS course (
  id                      TEXT PRIMARY KEY,
  lms_lineitems_endpoint  TEXT
);

CREATE TABLE IF NOT EXISTS student (
  id           TEXT PRIMARY KEY,
  lms_user_id  TEXT NOT NULL DEFAULT '',
  first_name   TEXT NOT NULL DEFAULT '',
  last_name    TEXT NOT NULL DEFAULT '',
  email        TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS assignment (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  name       TEXT NOT NULL UNIQUE,
  course_id  TEXT NOT NULL REFERENCES course(id),
  duedate    DATETIME,
  max_score  REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS submission (
  id             INTEGER PRIMARY KEY AUTOINCREMENT,
  assignment_id  INTEGER NOT NULL REFERENCES assignment(id) ON DELETE CASCADE,
  student_id     TEXT NOT NULL REFERENCES student(id) ON DELETE CASCADE,
  score          REAL,
  UNIQUE (assignment_id, student_id)
);
`
