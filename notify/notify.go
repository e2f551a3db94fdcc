// Package notify tells the peer process that the shared table changed.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/nyiyui/linkd/retry"
	"go.uber.org/zap"
)

// ErrExhausted is returned when every attempt failed.
var ErrExhausted = errors.New("peer notification failed")

// DefaultPolicy is 5 attempts in total, 2 seconds apart.
var DefaultPolicy = retry.Policy{Attempts: 5, Interval: 2 * time.Second}

// Transport delivers one notification attempt.
type Transport interface {
	Send(ctx context.Context) error
	String() string
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context) error

func (f TransportFunc) Send(ctx context.Context) error { return f(ctx) }
func (f TransportFunc) String() string                 { return "func" }

type Notifier struct {
	Transport Transport
	Policy    retry.Policy
}

func New(t Transport) *Notifier {
	return &Notifier{Transport: t, Policy: DefaultPolicy}
}

// Notify returns nil on the first accepted attempt.
func (n *Notifier) Notify(ctx context.Context) error {
	err := n.Policy.Do(ctx, func(attempt int) error {
		err := n.Transport.Send(ctx)
		if err != nil {
			zap.S().Warnf("notify %s: attempt %d/%d: %s", n.Transport, attempt, n.Policy.Attempts, err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("%w via %s: %w", ErrExhausted, n.Transport, err)
	}
	zap.S().Debugf("notified peer via %s.", n.Transport)
	return nil
}

// Datagram sends a one-byte datagram to a unix socket.
type Datagram struct {
	Path string
}

func (d Datagram) Send(ctx context.Context) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unixgram", d.Path)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write([]byte{1})
	return err
}

func (d Datagram) String() string { return "datagram " + d.Path }

// Async runs notifications off the caller's goroutine. Requests made while a notification
// is in flight are coalesced into one follow-up notification.
type Async struct {
	n       *Notifier
	pending chan struct{}
	// OnResult, if set, is called after each notification sequence.
	OnResult func(err error)
}

func NewAsync(n *Notifier) *Async {
	return &Async{n: n, pending: make(chan struct{}, 1)}
}

// Request schedules a notification and never blocks.
func (a *Async) Request() {
	select {
	case a.pending <- struct{}{}:
	default:
		zap.S().Debugf("notify: coalesced request.")
	}
}

// Run serves requests until ctx is done.
func (a *Async) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.pending:
		}
		err := a.n.Notify(ctx)
		if err != nil && ctx.Err() == nil {
			zap.S().Errorf("notify: %s", err)
		}
		if a.OnResult != nil {
			a.OnResult(err)
		}
	}
}
