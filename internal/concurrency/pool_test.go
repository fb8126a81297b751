package concurrency

import (
	"errors"
	"testing"
)

func TestPoolProcessPreservesOrder(t *testing.T) {
	pool := NewPool[int](4)
	items := []string{"claude", "codex", "git"}

	results := pool.Process(items, func(s string) (int, error) {
		return len(s), nil
	})

	if len(results) != len(items) {
		t.Fatalf("expected %d results, got %d", len(items), len(results))
	}
	for i, item := range items {
		if results[i].Value != len(item) {
			t.Errorf("index %d: expected value %d, got %d", i, len(item), results[i].Value)
		}
	}
}

func TestPoolProcessCapturesPerItemError(t *testing.T) {
	pool := NewPool[bool](2)
	boom := errors.New("not found")

	results := pool.Process([]string{"ok", "missing"}, func(s string) (bool, error) {
		if s == "missing" {
			return false, boom
		}
		return true, nil
	})

	if results[0].Err != nil {
		t.Fatalf("expected no error for index 0, got %v", results[0].Err)
	}
	if !errors.Is(results[1].Err, boom) {
		t.Fatalf("expected boom error for index 1, got %v", results[1].Err)
	}
}

func TestPoolProcessEmpty(t *testing.T) {
	pool := NewPool[int](0)
	if got := pool.Process(nil, func(string) (int, error) { return 0, nil }); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}
