package reconcile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/mind-engage/lti-hubsync/internal/logger"
)

var ErrLocked = errors.New("reconcile: another sync holds the lock")

// Lock is an exclusive lock file next to the generated config.
type Lock struct{ path string }

// processAlive reports whether pid still runs. EPERM means it exists under
// another user.
var processAlive = func(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// AcquireLock creates path exclusively and records the pid in it. A lock
// left by a process that no longer runs is taken over.
func AcquireLock(path string) (*Lock, error) {
	l, err := createLock(path)
	if !errors.Is(err, ErrLocked) {
		return l, err
	}
	pid, ok := lockOwner(path)
	if !ok || processAlive(pid) {
		return nil, err
	}
	logger.Named("reconcile").Warn().Str("path", path).Int("pid", pid).Msg("removing stale sync lock")
	if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
		return nil, rerr
	}
	return createLock(path)
}

func createLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	if err != nil {
		return nil, err
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = os.Remove(path)
		return nil, werr
	}
	return &Lock{path: path}, nil
}

// lockOwner reads the pid recorded in path. A lock whose pid cannot be read
// may still be in the middle of being written and is not reported.
func lockOwner(path string) (int, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	return os.Remove(l.path)
}
