package memory

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/dnyoussef/hooklog/internal/model"
)

func mk(i int, level model.Level, agent string) model.LogEntry {
	return model.LogEntry{
		Timestamp: time.Date(2026, 2, 17, 12, 0, i, 0, time.UTC),
		Level:     level,
		Message:   fmt.Sprintf("entry %d", i),
		Agent:     model.DefaultAgent(model.AgentContext{Name: agent}),
		Execution: model.ExecutionContext{CorrelationID: fmt.Sprintf("c-%d", i)},
		Metrics:   model.Metrics{},
	}
}

func TestCapacityAndFIFO(t *testing.T) {
	idx := New(1000)
	for i := 1; i <= 1001; i++ {
		idx.Add(mk(i, model.LevelInfo, "a"))
		if idx.Len() > idx.Capacity() {
			t.Fatalf("length %d exceeds capacity %d", idx.Len(), idx.Capacity())
		}
	}

	all, err := idx.Query(model.Filter{Limit: 5000})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1000 {
		t.Fatalf("expected 1000 entries, got %d", len(all))
	}
	if all[0].Message != "entry 2" {
		t.Errorf("expected oldest surviving entry to be 'entry 2', got %q", all[0].Message)
	}
	if all[len(all)-1].Message != "entry 1001" {
		t.Errorf("expected newest entry to be 'entry 1001', got %q", all[len(all)-1].Message)
	}
	for _, e := range all {
		if e.Message == "entry 1" {
			t.Fatal("first entry should have been evicted")
		}
	}
}

func TestEvictsExactlyOldest(t *testing.T) {
	idx := New(3)
	for i := 1; i <= 7; i++ {
		idx.Add(mk(i, model.LevelInfo, "a"))
		got, _ := idx.Query(model.Filter{})
		first := i - 2
		if first < 1 {
			first = 1
		}
		if got[0].Message != fmt.Sprintf("entry %d", first) {
			t.Fatalf("after %d inserts expected oldest entry %d, got %q", i, first, got[0].Message)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	idx := New(10)
	e := mk(1, model.LevelWarn, "backend-dev")
	e.Metrics["cost"] = 0.25
	e.RBAC = &model.RBACDecision{Decision: "allow", PermissionChecked: "fs.write"}
	e.Metadata = map[string]any{"file": "main.go"}
	idx.Add(e)

	got, err := idx.Query(model.Filter{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if !reflect.DeepEqual(got[0], e) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got[0], e)
	}
}

func TestConjunctiveFilter(t *testing.T) {
	idx := New(100)
	fixture := []model.LogEntry{
		mk(1, model.LevelInfo, "x"),
		mk(2, model.LevelError, "x"),
		mk(3, model.LevelError, "y"),
		mk(4, model.LevelWarn, "x"),
		mk(5, model.LevelFatal, "x"),
		mk(6, model.LevelError, "x"),
		mk(7, model.LevelInfo, "y"),
	}
	for _, e := range fixture {
		idx.Add(e)
	}

	got, err := idx.Query(model.Filter{Level: "ERROR", AgentName: "x"})
	if err != nil {
		t.Fatal(err)
	}

	var want []string
	for _, e := range fixture {
		if e.Level >= model.LevelError && e.Agent.Name == "x" {
			want = append(want, e.Message)
		}
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Message != want[i] {
			t.Errorf("position %d: expected %q, got %q", i, want[i], got[i].Message)
		}
	}
}

func TestQueryLimitKeepsNewest(t *testing.T) {
	idx := New(100)
	for i := 1; i <= 10; i++ {
		idx.Add(mk(i, model.LevelInfo, "a"))
	}
	got, _ := idx.Query(model.Filter{Limit: 3})
	if len(got) != 3 {
		t.Fatalf("expected 3, got %d", len(got))
	}
	if got[0].Message != "entry 8" || got[2].Message != "entry 10" {
		t.Errorf("expected entries 8..10 in order, got %q..%q", got[0].Message, got[2].Message)
	}
}

func TestQueryDefaultLimit(t *testing.T) {
	idx := New(500)
	for i := 0; i < 300; i++ {
		idx.Add(mk(i, model.LevelInfo, "a"))
	}
	got, _ := idx.Query(model.Filter{})
	if len(got) != model.DefaultLimit {
		t.Errorf("expected %d, got %d", model.DefaultLimit, len(got))
	}
}

func TestQueryTimeBounds(t *testing.T) {
	idx := New(100)
	for i := 1; i <= 5; i++ {
		idx.Add(mk(i, model.LevelInfo, "a"))
	}
	got, _ := idx.Query(model.Filter{
		StartTime: time.Date(2026, 2, 17, 12, 0, 2, 0, time.UTC),
		EndTime:   time.Date(2026, 2, 17, 12, 0, 4, 0, time.UTC),
	})
	if len(got) != 3 {
		t.Fatalf("expected 3 entries within inclusive bounds, got %d", len(got))
	}
}

func TestQueryInvalidFilter(t *testing.T) {
	idx := New(10)
	if _, err := idx.Query(model.Filter{Level: "nope"}); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestStats(t *testing.T) {
	idx := New(10)
	idx.Add(mk(1, model.LevelInfo, "x"))
	idx.Add(mk(2, model.LevelInfo, "y"))
	idx.Add(mk(3, model.LevelError, "x"))

	s := idx.Stats()
	if s.Total != 3 {
		t.Errorf("expected total 3, got %d", s.Total)
	}
	if s.ByLevel["INFO"] != 2 || s.ByLevel["ERROR"] != 1 {
		t.Errorf("unexpected level counts: %v", s.ByLevel)
	}
	if s.ByAgent["x"] != 2 || s.ByAgent["y"] != 1 {
		t.Errorf("unexpected agent counts: %v", s.ByAgent)
	}
}

func TestClear(t *testing.T) {
	idx := New(3)
	for i := 0; i < 5; i++ {
		idx.Add(mk(i, model.LevelInfo, "a"))
	}
	idx.Clear()
	if idx.Len() != 0 {
		t.Fatalf("expected empty index, got %d", idx.Len())
	}
	idx.Add(mk(9, model.LevelInfo, "a"))
	got, _ := idx.Query(model.Filter{})
	if len(got) != 1 || got[0].Message != "entry 9" {
		t.Errorf("unexpected contents after clear: %+v", got)
	}
}

func BenchmarkIndexAdd(b *testing.B) {
	idx := New(DefaultCapacity)
	e := mk(1, model.LevelInfo, "bench")
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx.Add(e)
	}
}

func TestEntriesAreCopied(t *testing.T) {
	x := New(10)
	e := mk(1, model.LevelInfo, "a")
	e.Metrics["cost"] = 1
	e.Metadata = map[string]any{"k": "v"}
	x.Add(e)

	e.Metrics["cost"] = 999
	e.Metadata["k"] = "changed"

	got, err := x.Query(model.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Metrics["cost"] != 1 || got[0].Metadata["k"] != "v" {
		t.Fatalf("stored entry shares maps with the caller: %+v", got[0])
	}

	got[0].Metrics["cost"] = 42
	again, _ := x.Query(model.Filter{})
	if again[0].Metrics["cost"] != 1 {
		t.Errorf("query result shares maps with the buffer: cost = %v", again[0].Metrics["cost"])
	}
}
