package binding

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/nyiyui/linkd/retry"
	"go.uber.org/zap"
)

// Path is where the binding table is installed.
const Path = "/tos/conf/vpn/ifbind.conf"

// DefaultOpenRetry is the open retry contract: 3 attempts, 10 seconds apart.
var DefaultOpenRetry = retry.Policy{Attempts: 3, Interval: 10 * time.Second}

type LoadOptions struct {
	Layout    Layout
	OpenRetry retry.Policy
}

func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		Layout:    NativeLayout(),
		OpenRetry: DefaultOpenRetry,
	}
}

// Load opens, parses and validates the binding table at path.
// Open failures are retried per opts.OpenRetry before ErrUnavailable is returned.
func Load(ctx context.Context, path string, opts LoadOptions) (*Snapshot, error) {
	var f *os.File
	err := opts.OpenRetry.Do(ctx, func(attempt int) error {
		var err error
		f, err = os.Open(path)
		if err != nil {
			zap.S().Errorf("opening binding table %s failed (attempt %d/%d): %s", path, attempt, opts.OpenRetry.Attempts, err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, path, err)
	}
	defer f.Close()
	s, err := Decode(f, opts.Layout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	err = Validate(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	zap.S().Infof("loaded binding table %s: %d records (id %d).", path, len(s.Records), s.Header.RecordID)
	return s, nil
}

// Store holds the current snapshot. The snapshot is only ever replaced by a validated one.
type Store struct {
	path    string
	opts    LoadOptions
	current atomic.Pointer[Snapshot]
}

func NewStore(path string, opts LoadOptions) *Store {
	return &Store{path: path, opts: opts}
}

func (s *Store) Path() string { return s.path }

// Current returns the current snapshot, or nil before the first successful load.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Load reads a new snapshot without installing it.
func (s *Store) Load(ctx context.Context) (*Snapshot, error) {
	return Load(ctx, s.path, s.opts)
}

// Set installs snap and returns the snapshot it replaced.
func (s *Store) Set(snap *Snapshot) (old *Snapshot) {
	return s.current.Swap(snap)
}

// Reload loads the table and installs it only if it is valid.
// On failure the previous snapshot is kept and the error returned.
func (s *Store) Reload(ctx context.Context) (old *Snapshot, err error) {
	snap, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return s.Set(snap), nil
}
