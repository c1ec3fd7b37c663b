package reconcile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mind-engage/lti-hubsync/internal/logger"
	"github.com/mind-engage/lti-hubsync/internal/storage"
)

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// CommandError reports a failed external command.
type CommandError struct {
	Command string
	Output  string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("reconcile: %s: %v: %s", e.Command, e.Err, strings.TrimSpace(e.Output))
}

func (e *CommandError) Unwrap() error { return e.Err }

// System provisions accounts and files on the local host. With DryRun set
// it only logs what it would do.
type System struct {
	DryRun bool
	Run    Runner
	// LookupUser defaults to os/user.Lookup.
	LookupUser func(name string) (*user.User, error)
}

func NewSystem(dryRun bool) *System {
	return &System{DryRun: dryRun, Run: execRunner, LookupUser: user.Lookup}
}

func (s *System) run(ctx context.Context, name string, args ...string) error {
	log := logger.C(ctx)
	if s.DryRun {
		log.Info().Str("cmd", name).Strs("args", args).Msg("dry-run")
		return nil
	}
	out, err := s.Run(ctx, name, args...)
	if err != nil {
		return &CommandError{Command: name + " " + strings.Join(args, " "), Output: string(out), Err: err}
	}
	log.Debug().Str("cmd", name).Strs("args", args).Msg("executed")
	return nil
}

func (s *System) CreateUser(ctx context.Context, username string) error {
	if username == "" || strings.ContainsAny(username, " \t\n/:") {
		return fmt.Errorf("reconcile: invalid username %q", username)
	}
	if _, err := s.LookupUser(username); err == nil {
		return nil
	}
	logger.C(ctx).Info().Str("user", username).Msg("create system user")
	return s.run(ctx, "adduser", "-q", "--gecos", "", "--disabled-password", username)
}

func (s *System) CreateDirs(ctx context.Context, dirs ...string) error {
	if len(dirs) == 0 {
		return errors.New("reconcile: no directories to create")
	}
	if s.DryRun {
		logger.C(ctx).Info().Strs("dirs", dirs).Msg("dry-run mkdir")
		return nil
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// Chown changes ownership recursively. An empty group keeps the user's
// primary group.
func (s *System) Chown(ctx context.Context, owner, group string, paths ...string) error {
	if s.DryRun {
		logger.C(ctx).Info().Str("owner", owner).Str("group", group).Strs("paths", paths).Msg("dry-run chown")
		return nil
	}
	u, err := s.LookupUser(owner)
	if err != nil {
		return err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return err
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return err
	}
	if group != "" && group != owner {
		g, err := user.LookupGroup(group)
		if err != nil {
			return err
		}
		if gid, err = strconv.Atoi(g.Gid); err != nil {
			return err
		}
	}
	for _, p := range paths {
		err := filepath.WalkDir(p, func(path string, _ fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			return os.Lchown(path, uid, gid)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *System) Chmod(ctx context.Context, mode os.FileMode, paths ...string) error {
	if s.DryRun {
		logger.C(ctx).Info().Str("mode", mode.String()).Strs("paths", paths).Msg("dry-run chmod")
		return nil
	}
	for _, p := range paths {
		if err := os.Chmod(p, mode); err != nil {
			return err
		}
	}
	return nil
}

func (s *System) WriteFile(ctx context.Context, path string, data []byte, mode os.FileMode) error {
	if s.DryRun {
		logger.C(ctx).Info().Str("path", path).Int("bytes", len(data)).Msg("dry-run write")
		return nil
	}
	return storage.WriteFile(path, bytes.NewReader(data), mode)
}

func (s *System) EnableGrading(ctx context.Context, username string) error {
	script := "jupyter nbextension install --user --py nbgrader --overwrite" +
		" && jupyter nbextension enable --user --py nbgrader" +
		" && jupyter serverextension enable --user --py nbgrader"
	return s.run(ctx, "su", username, "-c", script)
}
