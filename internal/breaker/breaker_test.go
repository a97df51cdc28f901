package breaker

import (
	"errors"
	"testing"
)

func TestExecutePassesThroughSuccessAndFailure(t *testing.T) {
	b := New("test")
	v, err := Execute(b, func() (int, error) { return 42, nil })
	if err != nil || v != 42 {
		t.Fatalf("got (%d, %v), want (42, nil)", v, err)
	}

	boom := errors.New("boom")
	_, err = Execute(b, func() (int, error) { return 0, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom error, got %v", err)
	}
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b := New("test")
	boom := errors.New("boom")

	for i := 0; i < failureThreshold; i++ {
		_, _ = Execute(b, func() (int, error) { return 0, boom })
	}

	if b.State() != "open" {
		t.Fatalf("expected breaker open after %d consecutive failures, got %s", failureThreshold, b.State())
	}

	called := false
	_, err := Execute(b, func() (int, error) { called = true; return 1, nil })
	if called {
		t.Fatal("fn must not be invoked while breaker is open")
	}
	if err == nil {
		t.Fatal("expected an error while breaker is open")
	}
}
