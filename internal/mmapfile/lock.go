package mmapfile

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Lock acquires an exclusive (writer) advisory lock on the file, blocking
// until it is available. It serializes writers across cooperating
// processes, per the single-exclusive-writer model.
//
// Reference: internal/vfs/lock.go (flock-based Unix file locking).
func (f *File) Lock() error {
	if err := unix.Flock(f.fd, unix.LOCK_EX); err != nil {
		return fmt.Errorf("mmapfile: flock ex %s: %w", f.path, err)
	}
	return nil
}

// RLock acquires a shared (reader) advisory lock, blocking until
// available.
func (f *File) RLock() error {
	if err := unix.Flock(f.fd, unix.LOCK_SH); err != nil {
		return fmt.Errorf("mmapfile: flock sh %s: %w", f.path, err)
	}
	return nil
}

// Unlock releases whatever advisory lock this descriptor currently holds.
func (f *File) Unlock() error {
	if err := unix.Flock(f.fd, unix.LOCK_UN); err != nil {
		return fmt.Errorf("mmapfile: flock un %s: %w", f.path, err)
	}
	return nil
}

// TryLock attempts to acquire an exclusive lock without blocking. It
// returns false (no error) if the lock is currently held elsewhere.
func (f *File) TryLock() (bool, error) {
	err := unix.Flock(f.fd, unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		return true, nil
	}
	if err == unix.EWOULDBLOCK {
		return false, nil
	}
	return false, fmt.Errorf("mmapfile: flock try-ex %s: %w", f.path, err)
}
