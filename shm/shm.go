// Package shm publishes link state to the peer process through a fixed-layout shared
// memory region.
package shm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/nyiyui/linkd/binding"
	"github.com/nyiyui/linkd/goal"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrOutOfRange = errors.New("priority out of range")

// Segment is a mapped shared region.
type Segment interface {
	Bytes() []byte
	Close() error
}

// Locker guards the segment against cooperating readers in other processes.
type Locker interface {
	Lock() error
	Unlock() error
	RLock() error
	RUnlock() error
}

// Table is the published link table. Each slot is written whole while holding the
// exclusive lock.
type Table struct {
	// mu excludes goroutines of this process, which share the lock's file description.
	mu      sync.RWMutex
	seg     Segment
	lock    Locker
	layout  segmentLayout
	scratch []byte
}

// NewTable wraps seg. lock may be nil when no other process takes the lock.
func NewTable(seg Segment, l binding.Layout, lock Locker) (*Table, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	sl := newSegmentLayout(l)
	if got := len(seg.Bytes()); got < sl.size {
		return nil, fmt.Errorf("segment is %d bytes, need %d", got, sl.size)
	}
	if lock == nil {
		lock = nopLock{}
	}
	return &Table{
		seg:     seg,
		lock:    lock,
		layout:  sl,
		scratch: make([]byte, sl.link.size),
	}, nil
}

func (t *Table) withLock(f func(b []byte)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.lock.Lock(); err != nil {
		return fmt.Errorf("locking table: %w", err)
	}
	f(t.seg.Bytes())
	if err := t.lock.Unlock(); err != nil {
		return fmt.Errorf("unlocking table: %w", err)
	}
	return nil
}

func (t *Table) withRLock(f func(b []byte)) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.lock.RLock(); err != nil {
		return fmt.Errorf("locking table: %w", err)
	}
	f(t.seg.Bytes())
	if err := t.lock.RUnlock(); err != nil {
		return fmt.Errorf("unlocking table: %w", err)
	}
	return nil
}

func checkPriority(priority uint8) error {
	if priority >= binding.MaxBound {
		return fmt.Errorf("%w: %d", ErrOutOfRange, priority)
	}
	return nil
}

func (t *Table) slot(b []byte, priority uint8) []byte {
	off := t.layout.links + int(priority)*t.layout.link.size
	return b[off : off+t.layout.link.size]
}

// Init zeroes every slot and peer identity, then publishes count.
func (t *Table) Init(count int) error {
	err := t.withLock(func(b []byte) {
		clear(b[:t.layout.size])
		b[0] = byte(count)
	})
	if err != nil {
		return err
	}
	zap.S().Infof("shared table initialised with %d links.", count)
	return nil
}

// SetCount republishes the number of configured links.
func (t *Table) SetCount(count int) error {
	return t.withLock(func(b []byte) { b[0] = byte(count) })
}

func (t *Table) Count() (int, error) {
	var count int
	err := t.withRLock(func(b []byte) { count = int(b[0]) })
	return count, err
}

// Read returns the link published at priority. ok is false if the slot was never written.
func (t *Table) Read(priority uint8) (link goal.Link, ok bool, err error) {
	if err := checkPriority(priority); err != nil {
		return goal.Link{}, false, err
	}
	buf := make([]byte, t.layout.link.size)
	err = t.withRLock(func(b []byte) { copy(buf, t.slot(b, priority)) })
	if err != nil {
		return goal.Link{}, false, err
	}
	link = t.layout.link.decodeLink(buf)
	return link, link.VirtualIf != "", nil
}

// Write replaces the slot at priority with link.
func (t *Table) Write(priority uint8, link goal.Link) error {
	if err := checkPriority(priority); err != nil {
		return err
	}
	return t.withLock(func(b []byte) {
		t.layout.link.encodeLink(t.scratch, link)
		copy(t.slot(b, priority), t.scratch)
	})
}

// Clear empties the slot at priority.
func (t *Table) Clear(priority uint8) error {
	if err := checkPriority(priority); err != nil {
		return err
	}
	return t.withLock(func(b []byte) { clear(t.slot(b, priority)) })
}

// Links returns every written slot, in priority order.
func (t *Table) Links() ([]goal.Link, error) {
	var links []goal.Link
	for p := uint8(0); p < binding.MaxBound; p++ {
		link, ok, err := t.Read(p)
		if err != nil {
			return nil, err
		}
		if ok {
			links = append(links, link)
		}
	}
	return links, nil
}

func (t *Table) SetPeer(priority uint8, name string, pid int32) error {
	if err := checkPriority(priority); err != nil {
		return err
	}
	return t.withLock(func(b []byte) {
		off := t.layout.peerNames + int(priority)*PeerNameSize
		binding.PutCString(b[off:off+PeerNameSize], name)
		byteOrder.PutUint32(b[t.layout.peerPIDs+int(priority)*pidSize:], uint32(pid))
	})
}

func (t *Table) Peer(priority uint8) (name string, pid int32, err error) {
	if err := checkPriority(priority); err != nil {
		return "", 0, err
	}
	err = t.withRLock(func(b []byte) {
		off := t.layout.peerNames + int(priority)*PeerNameSize
		name = binding.CString(b[off : off+PeerNameSize])
		pid = int32(byteOrder.Uint32(b[t.layout.peerPIDs+int(priority)*pidSize:]))
	})
	return name, pid, err
}

// Close releases the segment and the lock.
func (t *Table) Close() error {
	err := t.seg.Close()
	if c, ok := t.lock.(interface{ Close() error }); ok {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// Memory is a process-local segment.
type Memory struct {
	b []byte
}

func NewMemory(l binding.Layout) *Memory {
	return &Memory{b: make([]byte, SegmentSize(l))}
}

func (m *Memory) Bytes() []byte { return m.b }
func (m *Memory) Close() error  { return nil }

type nopLock struct{}

func (nopLock) Lock() error    { return nil }
func (nopLock) Unlock() error  { return nil }
func (nopLock) RLock() error   { return nil }
func (nopLock) RUnlock() error { return nil }
