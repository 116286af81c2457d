package correlation

import (
	"sync"
	"testing"

	"github.com/google/uuid"
)

func TestGetOrCreateStable(t *testing.T) {
	r := NewRegistry()
	a := r.GetOrCreate("task-1")
	if _, err := uuid.Parse(a); err != nil {
		t.Fatalf("expected a UUID, got %q", a)
	}
	if b := r.GetOrCreate("task-1"); b != a {
		t.Errorf("expected stable id, got %q then %q", a, b)
	}
	if c := r.GetOrCreate("task-2"); c == a {
		t.Error("expected distinct keys to get distinct ids")
	}
	if r.Len() != 2 {
		t.Errorf("expected 2 keys, got %d", r.Len())
	}
}

func TestEmptyKeyAlwaysMints(t *testing.T) {
	r := NewRegistry()
	if r.GetOrCreate("") == r.GetOrCreate("") {
		t.Error("expected empty key to mint fresh ids")
	}
	if r.Len() != 0 {
		t.Error("empty key must not be remembered")
	}
}

func TestForget(t *testing.T) {
	r := NewRegistry()
	a := r.GetOrCreate("k")
	r.Forget("k")
	if r.GetOrCreate("k") == a {
		t.Error("expected a new id after Forget")
	}
}

func TestConcurrentGetOrCreate(t *testing.T) {
	r := NewRegistry()
	ids := make([]string, 32)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = r.GetOrCreate("shared")
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("expected all goroutines to see %q, got %q", ids[0], id)
		}
	}
}
