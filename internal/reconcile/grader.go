package reconcile

import (
	"bytes"
	"context"
	"path/filepath"
	"text/template"

	"github.com/mind-engage/lti-hubsync/internal/gradebook"
)

var homeConfigTmpl = template.Must(template.New("home").Parse(`c = get_config()

c.CourseDirectory.root = '{{.Root}}'
c.ClearSolutions.code_stub = {
    "python": "# your code here\nraise NotImplementedError",
    "javascript": "// your code here\nthrow new Error();",
    "julia": "# your code here\nthrow(ErrorException())"
}
c.CourseDirectory.db_url = '{{.DBURL}}'
`))

var courseConfigTmpl = template.Must(template.New("course").Parse(`c = get_config()

c.CourseDirectory.course_id = '{{.CourseID}}'
`))

// GraderLayout is where a course's grader keeps its files.
type GraderLayout struct {
	CourseID string
	Grader   string
	Home     string // {home}/grader-{cid}
}

func NewGraderLayout(homeRoot, courseID string) GraderLayout {
	g := gradebook.GraderName(courseID)
	return GraderLayout{CourseID: courseID, Grader: g, Home: filepath.Join(homeRoot, g)}
}

func (l GraderLayout) JupyterDir() string { return filepath.Join(l.Home, ".jupyter") }
func (l GraderLayout) CourseDir() string { return filepath.Join(l.Home, l.CourseID) }
func (l GraderLayout) SourceDir() string { return filepath.Join(l.CourseDir(), "source") }
func (l GraderLayout) HomeConfigPath() string { return filepath.Join(l.JupyterDir(), "nbgrader_config.py") }
func (l GraderLayout) CourseConfigPath() string { return filepath.Join(l.CourseDir(), "nbgrader_config.py") }
func (l GraderLayout) DBPath() string { return filepath.Join(l.Home, "grader.db") }

// HomeConfig is the grader-level config pointing at the course root and
// the gradebook.
func (l GraderLayout) HomeConfig() ([]byte, error) {
	var buf bytes.Buffer
	err := homeConfigTmpl.Execute(&buf, map[string]string{
		"Root":  l.CourseDir(),
		"DBURL": "sqlite:///" + l.DBPath(),
	})
	return buf.Bytes(), err
}

func (l GraderLayout) CourseConfig() ([]byte, error) {
	var buf bytes.Buffer
	err := courseConfigTmpl.Execute(&buf, map[string]string{"CourseID": l.CourseID})
	return buf.Bytes(), err
}

// prepareGrader creates the grader account, its directories and both
// config files. The gradebook must not be opened before it.
func prepareGrader(ctx context.Context, p Provisioner, l GraderLayout) error {
	if err := p.CreateUser(ctx, l.Grader); err != nil {
		return err
	}
	if err := p.CreateDirs(ctx, l.JupyterDir(), l.SourceDir()); err != nil {
		return err
	}
	home, err := l.HomeConfig()
	if err != nil {
		return err
	}
	if err := p.WriteFile(ctx, l.HomeConfigPath(), home, 0o644); err != nil {
		return err
	}
	course, err := l.CourseConfig()
	if err != nil {
		return err
	}
	return p.WriteFile(ctx, l.CourseConfigPath(), course, 0o644)
}

// handOverGrader gives the grader its home and gradebook, leaves the
// gradebook world readable for the notebook servers and enables the
// grading extensions.
func handOverGrader(ctx context.Context, p Provisioner, l GraderLayout) error {
	if err := p.Chown(ctx, l.Grader, l.Grader, l.Home, l.DBPath()); err != nil {
		return err
	}
	if err := p.Chmod(ctx, 0o644, l.DBPath()); err != nil {
		return err
	}
	return p.EnableGrading(ctx, l.Grader)
}
