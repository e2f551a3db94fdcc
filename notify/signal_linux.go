//go:build linux

package notify

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// Signal signals the peer whose pid is in PIDFile. If the pid file cannot be read,
// Fallback (if set) supplies the pid, e.g. from the shared table's peer slots.
type Signal struct {
	PIDFile  string
	Signal   syscall.Signal
	Fallback func() (int32, error)
}

func (s Signal) pid() (int, error) {
	b, err := os.ReadFile(s.PIDFile)
	if err == nil {
		pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
		if err != nil {
			return 0, fmt.Errorf("parsing %s: %w", s.PIDFile, err)
		}
		return pid, nil
	}
	if s.Fallback == nil {
		return 0, err
	}
	pid, ferr := s.Fallback()
	if ferr != nil {
		return 0, fmt.Errorf("%w (fallback: %w)", err, ferr)
	}
	return int(pid), nil
}

func (s Signal) Send(ctx context.Context) error {
	pid, err := s.pid()
	if err != nil {
		return err
	}
	if pid <= 0 {
		return fmt.Errorf("invalid peer pid %d", pid)
	}
	return unix.Kill(pid, s.Signal)
}

func (s Signal) String() string {
	return fmt.Sprintf("%s to %s", unix.SignalName(s.Signal), s.PIDFile)
}

// ParseSignal accepts names like "SIGUSR1".
func ParseSignal(name string) (syscall.Signal, error) {
	sig := unix.SignalNum(strings.ToUpper(name))
	if sig == 0 {
		return 0, fmt.Errorf("unknown signal %q", name)
	}
	return sig, nil
}
