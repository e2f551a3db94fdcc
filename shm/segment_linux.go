//go:build linux

package shm

import (
	"fmt"
	"os"

	"github.com/nyiyui/linkd/binding"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// SysV is a System V shared memory segment.
type SysV struct {
	id int
	b  []byte
}

// OpenSysV creates (or attaches to an existing) segment identified by key.
func OpenSysV(key int, l binding.Layout) (*SysV, error) {
	size := SegmentSize(l)
	id, err := unix.SysvShmGet(key, size, unix.IPC_CREAT|0o644)
	if err != nil {
		return nil, fmt.Errorf("shmget key %#x size %d: %w", key, size, err)
	}
	b, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("shmat id %d: %w", id, err)
	}
	zap.S().Debugf("attached sysv segment key %#x id %d (%d bytes).", key, id, len(b))
	return &SysV{id: id, b: b}, nil
}

func (s *SysV) Bytes() []byte { return s.b }

func (s *SysV) Close() error {
	if s.b == nil {
		return nil
	}
	err := unix.SysvShmDetach(s.b)
	s.b = nil
	return err
}

// Remove marks the segment for deletion once every process has detached.
func (s *SysV) Remove() error {
	_, err := unix.SysvShmCtl(s.id, unix.IPC_RMID, nil)
	return err
}

// File is a shared mapping of a file, e.g. under /dev/shm.
type File struct {
	f *os.File
	b []byte
}

func OpenFile(path string, l binding.Layout) (*File, error) {
	size := SegmentSize(l)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	err = f.Truncate(int64(size))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sizing %s: %w", path, err)
	}
	b, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mapping %s: %w", path, err)
	}
	return &File{f: f, b: b}, nil
}

func (m *File) Bytes() []byte { return m.b }

func (m *File) Close() error {
	var err error
	if m.b != nil {
		err = unix.Munmap(m.b)
		m.b = nil
	}
	return multierr.Append(err, m.f.Close())
}

// FileLock is an flock(2) lock on a dedicated lock file.
type FileLock struct {
	f *os.File
}

func OpenFileLock(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	return &FileLock{f: f}, nil
}

func (l *FileLock) flock(how int) error {
	for {
		err := unix.Flock(int(l.f.Fd()), how)
		if err != unix.EINTR {
			return err
		}
	}
}

func (l *FileLock) Lock() error    { return l.flock(unix.LOCK_EX) }
func (l *FileLock) Unlock() error  { return l.flock(unix.LOCK_UN) }
func (l *FileLock) RLock() error   { return l.flock(unix.LOCK_SH) }
func (l *FileLock) RUnlock() error { return l.flock(unix.LOCK_UN) }
func (l *FileLock) Close() error   { return l.f.Close() }
