//go:build linux

package nlevent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

func group(g uint32) uint32 { return 1 << (g - 1) }

var groups = group(unix.RTNLGRP_LINK) | group(unix.RTNLGRP_IPV4_IFADDR) | group(unix.RTNLGRP_IPV6_IFADDR) | group(unix.RTNLGRP_NEIGH)

// DefaultTimeout bounds one receive, so Run notices cancellation.
const DefaultTimeout = time.Second

// Source is a NETLINK_ROUTE socket subscribed to link, address and neighbour groups.
type Source struct {
	fd       int
	buf      []byte
	Resolver Resolver
	// OnSkipped, if set, is told how many malformed messages each receive dropped.
	OnSkipped func(n int)
}

// Open subscribes to link, IPv4/IPv6 address and neighbour notifications.
func Open(timeout time.Duration) (*Source, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_ROUTE)
	if err != nil {
		return nil, fmt.Errorf("netlink socket: %w", err)
	}
	err = unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: groups})
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netlink bind: %w", err)
	}
	if timeout > 0 {
		tv := unix.NsecToTimeval(timeout.Nanoseconds())
		err = unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
		if err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("netlink receive timeout: %w", err)
		}
	}
	zap.S().Info("netlink subscription open.")
	return &Source{
		fd:       fd,
		buf:      make([]byte, 1<<16),
		Resolver: NetResolver{},
	}, nil
}

func (s *Source) Close() error {
	return unix.Close(s.fd)
}

// Poll performs one receive and returns the decoded events with names resolved.
func (s *Source) Poll() ([]Event, error) {
	var n int
	var err error
	for {
		n, _, err = unix.Recvfrom(s.fd, s.buf, 0)
		if err != unix.EINTR {
			break
		}
	}
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK):
		return nil, ErrWouldBlock
	case errors.Is(err, unix.ENOBUFS):
		zap.S().Warn("netlink: receive buffer overrun; notifications lost.")
		return []Event{{Kind: Overrun}}, nil
	case err != nil:
		return nil, fmt.Errorf("netlink recv: %w", err)
	}
	events, skipped := Decode(s.buf[:n])
	if skipped > 0 && s.OnSkipped != nil {
		s.OnSkipped(skipped)
	}
	resolved := events[:0]
	for _, ev := range events {
		if ev.Name == "" {
			name, err := s.Resolver.NameByIndex(ev.Index)
			if err != nil {
				zap.S().Debugf("netlink: %s: cannot resolve index %d: %s", ev.Kind, ev.Index, err)
				continue
			}
			ev.Name = name
		}
		resolved = append(resolved, ev)
	}
	return resolved, nil
}

// Run pumps events to out until ctx is done or the socket fails.
func (s *Source) Run(ctx context.Context, out chan<- Event) error {
	for ctx.Err() == nil {
		events, err := s.Poll()
		if errors.Is(err, ErrWouldBlock) {
			continue
		}
		if err != nil {
			return err
		}
		for _, ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
	return nil
}
