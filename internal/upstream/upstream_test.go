package upstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/gymgate/internal/model"
)

func newTestPolicy(timeout time.Duration) *Policy {
	p := NewPolicy(timeout)
	p.sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func TestCall_TimeoutMapsToUpstreamTimeout(t *testing.T) {
	p := newTestPolicy(10 * time.Millisecond)
	var timedOut string
	p.OnTimeout = func(op string) { timedOut = op }

	_, err := Call(context.Background(), p, "idp.profile", func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})

	if !errors.Is(err, model.ErrUpstreamTimeout) {
		t.Fatalf("err = %v, want UpstreamTimeout", err)
	}
	if timedOut != "idp.profile" {
		t.Errorf("OnTimeout op = %q, want idp.profile", timedOut)
	}
}

func TestCall_DoesNotRetry(t *testing.T) {
	p := newTestPolicy(time.Second)
	calls := 0

	_, err := Call(context.Background(), p, "ledger.insert", func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("connection reset")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRead_RetriesOnceOnTransientError(t *testing.T) {
	p := newTestPolicy(time.Second)
	calls := 0

	v, err := Read(context.Background(), p, "identity.find", func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("connection reset")
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ok" || calls != 2 {
		t.Errorf("v = %q, calls = %d; want ok, 2", v, calls)
	}
}

func TestRead_AtMostOneRetry(t *testing.T) {
	p := newTestPolicy(time.Second)
	calls := 0

	_, err := Read(context.Background(), p, "identity.find", func(ctx context.Context) (string, error) {
		calls++
		return "", errors.New("connection reset")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRead_DoesNotRetryDomainErrors(t *testing.T) {
	p := newTestPolicy(time.Second)
	calls := 0

	_, err := Read(context.Background(), p, "identity.find", func(ctx context.Context) (string, error) {
		calls++
		return "", model.NewAccessError(model.KindIdentityNotFound, "no profile", nil)
	})

	if !errors.Is(err, model.ErrIdentityNotFound) {
		t.Fatalf("err = %v, want IdentityNotFound", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRead_DoesNotRetryWhenCallerCancelled(t *testing.T) {
	p := newTestPolicy(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	_, err := Read(ctx, p, "identity.find", func(ctx context.Context) (string, error) {
		calls++
		cancel()
		return "", context.Canceled
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestJitter_WithinBounds(t *testing.T) {
	p := NewPolicy(0)
	p.RetryBase = 100 * time.Millisecond

	for i := 0; i < 100; i++ {
		d := p.jitter()
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jitter %v out of [50ms, 150ms]", d)
		}
	}
}

func TestNewPolicy_DefaultTimeout(t *testing.T) {
	if got := NewPolicy(0).Timeout; got != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", got, DefaultTimeout)
	}
}
