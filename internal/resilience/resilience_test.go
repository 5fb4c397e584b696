package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func fastConfig() Config {
	return Config{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsedTime:  time.Second,
		MaxRetries:      3,
		BreakerFailures: 5,
		BreakerTimeout:  time.Minute,
	}
}

func TestDo_TransientThenSuccess(t *testing.T) {
	r := NewRegistry(fastConfig())
	calls := 0
	got, err := Do(context.Background(), r, "search", func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", fmt.Errorf("transient %d", calls)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls", got, calls)
	}
}

func TestDo_PermanentNotRetried(t *testing.T) {
	r := NewRegistry(fastConfig())
	calls := 0
	sentinel := errors.New("bad input")
	_, err := Do(context.Background(), r, "planner", func(ctx context.Context) (int, error) {
		calls++
		return 0, Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want %v", err, sentinel)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_MaxRetries(t *testing.T) {
	r := NewRegistry(fastConfig())
	calls := 0
	_, err := Do(context.Background(), r, "flaky", func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("down")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 4 {
		t.Errorf("calls = %d, want 4 (1 + 3 retries)", calls)
	}
}

func TestDo_BreakerOpens(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxRetries = 0
	cfg.MaxElapsedTime = 20 * time.Millisecond
	cfg.BreakerFailures = 2
	r := NewRegistry(cfg)

	fail := func(ctx context.Context) (int, error) { return 0, errors.New("down") }
	for i := 0; i < 3; i++ {
		Do(context.Background(), r, "bash", fail)
	}
	if r.State("bash") != gobreaker.StateOpen {
		t.Fatalf("state = %s, want open", r.State("bash"))
	}
	_, err := Do(context.Background(), r, "bash", func(ctx context.Context) (int, error) { return 1, nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if r.State("search") != gobreaker.StateClosed {
		t.Error("breakers should be independent per name")
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	r := NewRegistry(fastConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := Do(ctx, r, "x", func(ctx context.Context) (int, error) {
		calls++
		return 1, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}
