package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestFallbackGroup_Order(t *testing.T) {
	fg := NewFallbackGroup("a", "primary", FallbackConfig{})
	fg.AddFallback("second", "b")
	fg.AddFallback("third", "c")

	if got, want := fg.Names(), []string{"primary", "second", "third"}; !slices.Equal(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}

	var tried []string
	err := fg.Execute(context.Background(), func(v string) error {
		tried = append(tried, v)
		if v == "c" {
			return nil
		}
		return errTest
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if want := []string{"a", "b", "c"}; !slices.Equal(tried, want) {
		t.Errorf("tried = %v, want %v", tried, want)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	fg := NewFallbackGroup(1, "one", FallbackConfig{})
	fg.AddFallback("two", 2)

	err := fg.Execute(context.Background(), func(int) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want wrapped errTest", err)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	fg := NewFallbackGroup("a", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fg.AddFallback("backup", "b")

	fn := func(v string) (string, error) {
		if v == "a" {
			return "", errTest
		}
		return "ok-" + v, nil
	}

	// First call trips the primary's breaker.
	if _, err := ExecuteWithResult(context.Background(), fg, fn); err != nil {
		t.Fatalf("first call: %v", err)
	}

	calls := 0
	got, err := ExecuteWithResult(context.Background(), fg, func(v string) (string, error) {
		calls++
		return fn(v)
	})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if got != "ok-b" {
		t.Errorf("result = %q, want ok-b", got)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1 (primary skipped)", calls)
	}
	if !fg.Healthy() {
		t.Error("Healthy() = false, want true while backup is closed")
	}
}

func TestFallbackGroup_Healthy(t *testing.T) {
	fg := NewFallbackGroup(0, "only", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	if !fg.Healthy() {
		t.Fatal("fresh group must be healthy")
	}
	_ = fg.Execute(context.Background(), func(int) error { return errTest })
	if fg.Healthy() {
		t.Fatal("group with every breaker open must be unhealthy")
	}
}

func TestExecuteWithResult_StopsOnDoneContext(t *testing.T) {
	fg := NewFallbackGroup("a", "primary", FallbackConfig{})
	fg.AddFallback("backup", "b")

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := ExecuteWithResult(ctx, fg, func(string) (int, error) {
		calls++
		cancel()
		return 0, context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
