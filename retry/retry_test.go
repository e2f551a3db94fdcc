package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type recorder struct {
	waits []time.Duration
}

func (r *recorder) wait(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func TestDoExhausts(t *testing.T) {
	rec := new(recorder)
	p := Policy{Attempts: 5, Interval: 2 * time.Second, Wait: rec.wait}
	calls := 0
	failure := errors.New("peer not listening")
	err := p.Do(context.Background(), func(attempt int) error {
		calls++
		if attempt != calls {
			t.Fatalf("attempt %d on call %d", attempt, calls)
		}
		return failure
	})
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if !errors.Is(err, failure) {
		t.Fatalf("expected last error to be wrapped, got %v", err)
	}
	if calls != 5 {
		t.Fatalf("calls = %d", calls)
	}
	want := []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second}
	if !cmp.Equal(rec.waits, want) {
		t.Fatal(cmp.Diff(rec.waits, want))
	}
}

func TestDoStopsOnSuccess(t *testing.T) {
	rec := new(recorder)
	p := Policy{Attempts: 3, Interval: 10 * time.Second, Wait: rec.wait}
	calls := 0
	err := p.Do(context.Background(), func(attempt int) error {
		calls++
		if attempt < 2 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 || len(rec.waits) != 1 {
		t.Fatalf("calls = %d, waits = %v", calls, rec.waits)
	}
}

func TestDoCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Policy{Attempts: 3, Interval: time.Hour}
	calls := 0
	err := p.Do(ctx, func(int) error {
		calls++
		return errors.New("fail")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestStart(t *testing.T) {
	p := Policy{Attempts: 1}
	err := <-p.Start(context.Background(), func(int) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
}
