// Package mmapfile owns a single open database file: its file descriptor,
// its mmap view, advisory read/write locks on the descriptor, and the
// handful of primitive operations (positional write, append, truncate,
// rename, fsync) every other twoskip package builds on.
//
// Reference: the append+fsync+remap discipline is grounded on
// calvinalkan-agent-task/pkg/slotcache's mmap-backed cache file (fixed
// header, syscall.Mmap/Munmap, fsync-before-visibility commit protocol),
// adapted here to golang.org/x/sys/unix so the same code path covers
// Linux and Darwin without per-OS build tags, the way the teacher's own
// internal/vfs isolates platform primitives.
package mmapfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned by any operation on a closed File.
var ErrClosed = errors.New("mmapfile: closed")

// ErrOutOfRange is returned when a requested Slice falls outside the
// currently mapped region.
var ErrOutOfRange = errors.New("mmapfile: slice out of range")

// File is a single open database file with an mmap view over its
// contents. It is not safe for concurrent use without the caller holding
// the appropriate Lock/RLock — that locking discipline lives in the root
// package's DB and Txn (db.go, txn.go), which know whether an operation
// is a read or part of a write transaction.
type File struct {
	fd     int
	path   string
	data   []byte
	closed bool
}

// Open opens path, creating it if create is true and it doesn't exist.
// The file is not mapped until it has nonzero size; a freshly created
// empty file maps lazily the first time its size grows past zero (mmap of
// a zero-length region is not well-defined on any platform).
func Open(path string, create bool) (*File, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	fd, err := unix.Open(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("mmapfile: open %s: %w", path, err)
	}
	f := &File{fd: fd, path: path}
	size, err := f.statSize()
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if size > 0 {
		if err := f.mmap(size); err != nil {
			_ = unix.Close(fd)
			return nil, err
		}
	}
	return f, nil
}

func (f *File) statSize() (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(f.fd, &st); err != nil {
		return 0, fmt.Errorf("mmapfile: fstat %s: %w", f.path, err)
	}
	return st.Size, nil
}

func (f *File) mmap(size int64) error {
	data, err := unix.Mmap(f.fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmapfile: mmap %s (%d bytes): %w", f.path, size, err)
	}
	f.data = data
	return nil
}

func (f *File) unmap() error {
	if f.data == nil {
		return nil
	}
	err := unix.Munmap(f.data)
	f.data = nil
	if err != nil {
		return fmt.Errorf("mmapfile: munmap %s: %w", f.path, err)
	}
	return nil
}

// remap drops the current mapping (if any) and establishes a new one
// sized to match the file's current on-disk size. Every operation that
// changes file length (Append, Truncate) must call this before returning.
func (f *File) remap() error {
	if err := f.unmap(); err != nil {
		return err
	}
	size, err := f.statSize()
	if err != nil {
		return err
	}
	if size == 0 {
		return nil
	}
	return f.mmap(size)
}

// Size returns the current file size in bytes.
func (f *File) Size() uint64 {
	return uint64(len(f.data))
}

// Slice returns the bytes in [offset, offset+length). The returned slice
// aliases the mmap view and is valid only until the next call that
// changes the mapping (Append, Truncate, Close).
func (f *File) Slice(offset, length uint64) ([]byte, error) {
	if f.closed {
		return nil, ErrClosed
	}
	end := offset + length
	if end < offset || end > uint64(len(f.data)) {
		return nil, fmt.Errorf("%w: [%d,%d) of %d", ErrOutOfRange, offset, end, len(f.data))
	}
	return f.data[offset:end], nil
}

// WriteAt overwrites bytes in place within the current mapping. It never
// changes the file's length; use Append to grow the file.
func (f *File) WriteAt(offset uint64, buf []byte) error {
	dst, err := f.Slice(offset, uint64(len(buf)))
	if err != nil {
		return err
	}
	copy(dst, buf)
	return nil
}

// Append grows the file by len(buf) bytes, writes buf at the old end, and
// returns the offset it was written at. The mapping is refreshed to cover
// the new size.
func (f *File) Append(buf []byte) (uint64, error) {
	if f.closed {
		return 0, ErrClosed
	}
	oldSize, err := f.statSize()
	if err != nil {
		return 0, err
	}
	newSize := oldSize + int64(len(buf))
	if err := unix.Ftruncate(f.fd, newSize); err != nil {
		return 0, fmt.Errorf("mmapfile: ftruncate %s to %d: %w", f.path, newSize, err)
	}
	if err := f.remap(); err != nil {
		return 0, err
	}
	if err := f.WriteAt(uint64(oldSize), buf); err != nil {
		return 0, err
	}
	return uint64(oldSize), nil
}

// Truncate shrinks or grows the file to exactly size bytes and refreshes
// the mapping.
func (f *File) Truncate(size uint64) error {
	if f.closed {
		return ErrClosed
	}
	if err := unix.Ftruncate(f.fd, int64(size)); err != nil {
		return fmt.Errorf("mmapfile: ftruncate %s to %d: %w", f.path, size, err)
	}
	return f.remap()
}

// Sync flushes both the mmap'd pages and the file descriptor to stable
// storage. Every commit point in the engine calls this twice: once after
// the COMMIT record is appended, once after the header is rewritten.
func (f *File) Sync() error {
	if f.closed {
		return ErrClosed
	}
	if len(f.data) > 0 {
		if err := unix.Msync(f.data, unix.MS_SYNC); err != nil {
			return fmt.Errorf("mmapfile: msync %s: %w", f.path, err)
		}
	}
	if err := unix.Fsync(f.fd); err != nil {
		return fmt.Errorf("mmapfile: fsync %s: %w", f.path, err)
	}
	return nil
}

// Close unmaps and closes the underlying descriptor. Close is idempotent.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	errUnmap := f.unmap()
	errClose := unix.Close(f.fd)
	if errUnmap != nil {
		return errUnmap
	}
	if errClose != nil {
		return fmt.Errorf("mmapfile: close %s: %w", f.path, errClose)
	}
	return nil
}

// Path returns the path the file was opened with.
func (f *File) Path() string { return f.path }

// Rename atomically replaces newPath with the file at oldPath, then
// fsyncs newPath's parent directory so the rename itself is durable.
// Reference: calvinalkan-agent-task/pkg/fs atomic-write-then-dir-sync
// sequence, and the teacher's vfs.SyncDir.
func Rename(oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("mmapfile: rename %s -> %s: %w", oldPath, newPath, err)
	}
	return SyncDir(filepath.Dir(newPath))
}

// SyncDir fsyncs a directory so that prior renames/creates within it are
// durable, not just visible.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("mmapfile: open dir %s: %w", dir, err)
	}
	syncErr := d.Sync()
	closeErr := d.Close()
	if syncErr != nil {
		return fmt.Errorf("mmapfile: sync dir %s: %w", dir, syncErr)
	}
	return closeErr
}
