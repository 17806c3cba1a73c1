package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/vobby/vobby/internal/utils"
)

const (
	logsDir  = "logs"
	lockFile = "vobby.lock"
)

var ErrWorkspaceLocked = errors.New("workspace locked by another process")

// Workspace is the bridge's runtime directory and the local root it shares.
// One bridge may hold a runtime directory at a time.
type Workspace struct {
	RuntimeDir string
	LogsDir    string
	Root       string

	flock *flock.Flock
}

func New(runtimeDir, root string) (*Workspace, error) {
	rt, err := utils.ResolvePath(runtimeDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", runtimeDir, err)
	}
	r, err := utils.ResolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", root, err)
	}

	return &Workspace{
		RuntimeDir: rt,
		LogsDir:    filepath.Join(rt, logsDir),
		Root:       r,
		flock:      flock.New(filepath.Join(rt, lockFile)),
	}, nil
}

func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.RuntimeDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.RuntimeDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}
	return nil
}

// Unlock releases the lock and removes the lock file. It is a no-op when this
// process does not hold the lock.
func (w *Workspace) Unlock() error {
	if !w.flock.Locked() {
		return nil
	}
	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}
	return os.Remove(w.flock.Path())
}

// Setup takes the lock and creates the runtime layout.
func (w *Workspace) Setup() error {
	if !utils.DirExists(w.Root) {
		return fmt.Errorf("shared root %s does not exist", w.Root)
	}
	if err := w.Lock(); err != nil {
		return err
	}
	if err := utils.EnsureDir(w.LogsDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.LogsDir, err)
	}
	slog.Info("workspace", "runtime", w.RuntimeDir, "root", w.Root)
	return nil
}
