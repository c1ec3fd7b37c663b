package reconcile

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/mind-engage/lti-hubsync/internal/moodle"
)

var ErrInvalidInput = errors.New("reconcile: invalid input file")

// Input selects the courses to sync. Courses listed under NbGrader also get
// the grading subsystem. Entries are Moodle numeric ids or short names.
type Input struct {
	JupyterHub []string
	NbGrader   []string
}

// LoadInput reads a JSON or YAML input file with exactly the keys
// "jupyterhub" and "nbgrader", each a list of course ids.
func LoadInput(path string) (*Input, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseInput(b)
}

func ParseInput(b []byte) (*Input, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if len(raw) != 2 || !hasKey(raw, "jupyterhub") || !hasKey(raw, "nbgrader") {
		return nil, fmt.Errorf("%w: want exactly the keys jupyterhub and nbgrader", ErrInvalidInput)
	}
	hub, err := idList(raw, "jupyterhub")
	if err != nil {
		return nil, err
	}
	grading, err := idList(raw, "nbgrader")
	if err != nil {
		return nil, err
	}
	return &Input{JupyterHub: hub, NbGrader: grading}, nil
}

func hasKey(m map[string]any, k string) bool {
	_, ok := m[k]
	return ok
}

func idList(raw map[string]any, key string) ([]string, error) {
	v := raw[key]
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a list of course ids", ErrInvalidInput, key)
	}
	out := make([]string, 0, len(list))
	for _, e := range list {
		switch t := e.(type) {
		case string:
			out = append(out, t)
		case int:
			out = append(out, strconv.Itoa(t))
		default:
			return nil, fmt.Errorf("%w: invalid course id %v in %s", ErrInvalidInput, e, key)
		}
	}
	return out, nil
}

// Apply keeps the listed courses in input order and flags the grading ones.
func (in *Input) Apply(courses []moodle.Course) []moodle.Course {
	hub := indexIDs(in.JupyterHub)
	grading := indexIDs(in.NbGrader)
	out := make([]moodle.Course, 0, len(courses))
	for _, c := range courses {
		id := strconv.Itoa(c.ID)
		inGrading := grading[id] || grading[c.CourseID]
		if !inGrading && !hub[id] && !hub[c.CourseID] {
			continue
		}
		c.Grading = inGrading
		out = append(out, c)
	}
	return out
}

func indexIDs(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
