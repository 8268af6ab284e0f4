// Package lockfile guarantees a single SyncKeeper process per state directory.
//
// The task table assumes one producer/consumer pair per device, so a second
// process against the same state directory must fail at startup. The lock is an
// flock on a file in the state directory; the kernel drops it when the holding
// process exits, however it exits.
package lockfile

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// LockFileName is the lock file created in the state directory.
const LockFileName = "synckeeper.lock"

// ErrHeld is matched by the error returned when another process holds the lock.
var ErrHeld = errors.New("state directory locked by another SyncKeeper process")

// Owner describes the process recorded in a lock file.
type Owner struct {
	PID        int
	InstanceID string
	Started    time.Time
}

// Lock is a held state directory lock.
type Lock struct {
	file  *os.File
	path  string
	owner Owner
}

// Acquire takes the lock for stateDir, creating the directory if needed.
// It fails with a *HeldError when another process holds it.
func Acquire(stateDir string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("lockfile.Acquire", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", stateDir, err)
	}

	// Open without truncating: the holder's record must survive a failed attempt.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := describeHolder(lockPath)
		slog.Error("lockfile.Acquire: state directory already locked", "lock_path", lockPath, "holder", holder, "error", err)
		return nil, &HeldError{LockPath: lockPath, Holder: holder, Cause: err}
	}

	owner := Owner{PID: os.Getpid(), InstanceID: uuid.NewString(), Started: time.Now().UTC()}
	if err := writeOwner(file, owner); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("write lock owner to %s: %w", lockPath, err)
	}

	slog.Info("lockfile.Acquire: state directory locked", "lock_path", lockPath, "pid", owner.PID, "instance", owner.InstanceID)
	return &Lock{file: file, path: lockPath, owner: owner}, nil
}

// Owner returns the record written for this process.
func (l *Lock) Owner() Owner {
	return l.owner
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and removes the lock file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	// Remove while still holding the lock so a waiting process never sees our record.
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Lock.Release: could not remove lock file", "lock_path", l.path, "error", err)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("Lock.Release: unlock failed", "lock_path", l.path, "error", err)
	}
	err := l.file.Close()
	l.file = nil

	slog.Info("Lock.Release: state directory unlocked", "lock_path", l.path)
	return err
}

func writeOwner(f *os.File, o Owner) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	record := fmt.Sprintf("pid=%d\ninstance=%s\nstarted=%s\n", o.PID, o.InstanceID, o.Started.Format(time.RFC3339))
	if _, err := f.WriteString(record); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("lockfile: sync failed", "lock_path", f.Name(), "error", err)
	}
	return nil
}

// ReadOwner parses the record in the lock file at path.
func ReadOwner(path string) (Owner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Owner{}, err
	}
	return parseOwner(string(data))
}

func parseOwner(content string) (Owner, error) {
	var o Owner
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		key, val, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			pid, err := strconv.Atoi(val)
			if err != nil || pid <= 0 {
				return Owner{}, fmt.Errorf("invalid pid %q", val)
			}
			o.PID = pid
		case "instance":
			o.InstanceID = val
		case "started":
			if t, err := time.Parse(time.RFC3339, val); err == nil {
				o.Started = t
			}
		}
	}
	if o.PID == 0 {
		return Owner{}, errors.New("no pid recorded")
	}
	return o, nil
}

// describeHolder summarizes the recorded owner for diagnostics.
func describeHolder(path string) string {
	o, err := ReadOwner(path)
	if err != nil {
		return "unknown (" + err.Error() + ")"
	}
	state := "running"
	if !processAlive(o.PID) {
		state = "not running, lock may be stale"
	}
	return fmt.Sprintf("pid %d (%s), started %s", o.PID, state, o.Started.Format(time.RFC3339))
}

// processAlive probes pid with signal 0.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

// HeldError reports a lock held by another process.
type HeldError struct {
	LockPath string
	Holder   string
	Cause    error
}

func (e *HeldError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another SyncKeeper process is using this state directory (lock file %s", e.LockPath)
	if e.Holder != "" {
		fmt.Fprintf(&b, ", holder %s", e.Holder)
	}
	b.WriteString("); stop it or choose a different state directory")
	return b.String()
}

// Is matches ErrHeld.
func (e *HeldError) Is(target error) bool {
	return target == ErrHeld
}

func (e *HeldError) Unwrap() error {
	return e.Cause
}
