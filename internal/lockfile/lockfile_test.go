package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAcquireWritesOwner(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	lockPath := filepath.Join(dir, LockFileName)
	if lock.Path() != lockPath {
		t.Errorf("Path() = %q, want %q", lock.Path(), lockPath)
	}

	owner, err := ReadOwner(lockPath)
	if err != nil {
		t.Fatalf("Failed to read lock owner: %v", err)
	}
	if owner.PID != os.Getpid() {
		t.Errorf("owner PID = %d, want %d", owner.PID, os.Getpid())
	}
	if owner.InstanceID == "" || owner.InstanceID != lock.Owner().InstanceID {
		t.Errorf("owner instance = %q, want %q", owner.InstanceID, lock.Owner().InstanceID)
	}
	if time.Since(owner.Started) > time.Minute {
		t.Errorf("owner start time %v is not recent", owner.Started)
	}
}

func TestAcquireConflict(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer first.Release()

	second, err := Acquire(dir)
	if err == nil {
		second.Release()
		t.Fatalf("Second acquisition should have failed")
	}

	if !errors.Is(err, ErrHeld) {
		t.Errorf("errors.Is(err, ErrHeld) = false for %v", err)
	}
	var held *HeldError
	if !errors.As(err, &held) {
		t.Fatalf("Expected *HeldError, got %T", err)
	}
	if !strings.Contains(held.Holder, fmt.Sprintf("pid %d (running)", os.Getpid())) {
		t.Errorf("holder should name this process: %q", held.Holder)
	}
	if !strings.Contains(err.Error(), dir) {
		t.Errorf("error should contain the lock path: %s", err.Error())
	}

	// The failed attempt must not clobber the holder's record.
	owner, err := ReadOwner(filepath.Join(dir, LockFileName))
	if err != nil {
		t.Fatalf("Failed to read lock owner after conflict: %v", err)
	}
	if owner.InstanceID != first.Owner().InstanceID {
		t.Errorf("owner record changed by failed attempt: %q", owner.InstanceID)
	}
}

func TestReleaseRemovesFileAndIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	lockPath := filepath.Join(dir, LockFileName)

	if err := lock.Release(); err != nil {
		t.Errorf("Failed to release lock: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Errorf("Lock file should be removed after release: %s", lockPath)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Second release should be a no-op: %v", err)
	}
}

func TestReacquireAfterRelease(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	first.Release()

	second, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Failed to reacquire lock after release: %v", err)
	}
	defer second.Release()

	if second.Owner().InstanceID == first.Owner().InstanceID {
		t.Errorf("each acquisition should get a fresh instance id")
	}
}

func TestAcquireCreatesStateDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Should create directory and acquire lock: %v", err)
	}
	defer lock.Release()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("Directory should have been created: %v", err)
	}
}

func TestParseOwner(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantPID int
		wantErr bool
	}{
		{"full record", "pid=12345\ninstance=abc\nstarted=2024-03-09T14:30:15Z\n", 12345, false},
		{"pid only", "pid=67890", 67890, false},
		{"unknown keys ignored", "host=box\npid=42\n", 42, false},
		{"no pid", "instance=abc", 0, true},
		{"empty", "", 0, true},
		{"invalid pid", "pid=abc", 0, true},
		{"negative pid", "pid=-3", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := parseOwner(tt.content)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseOwner(%q) error = %v, wantErr %v", tt.content, err, tt.wantErr)
			}
			if o.PID != tt.wantPID {
				t.Errorf("parseOwner(%q).PID = %d, want %d", tt.content, o.PID, tt.wantPID)
			}
		})
	}
}

func TestDescribeHolderStaleRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), LockFileName)
	// PIDs above the Linux pid_max ceiling cannot belong to a live process.
	if err := os.WriteFile(path, []byte("pid=99999999\n"), 0644); err != nil {
		t.Fatalf("Failed to write lock file: %v", err)
	}

	got := describeHolder(path)
	if !strings.Contains(got, "stale") {
		t.Errorf("describeHolder = %q, want a stale marker", got)
	}
}

func TestProcessAlive(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Errorf("Our own process should be detected as running")
	}
}
