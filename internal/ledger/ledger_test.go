package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAggregatesPerTool(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	calls := []Call{
		{CallID: "1", Tool: "analyze", Transport: "pipe", OK: true, Duration: 100 * time.Millisecond},
		{CallID: "2", Tool: "analyze", Transport: "pipe", OK: true, Cached: true, Duration: 300 * time.Millisecond},
		{CallID: "3", Tool: "separate", Transport: "http", OK: false, ErrorKind: "BackendFailure", Duration: 50 * time.Millisecond},
	}
	for _, c := range calls {
		if err := s.Record(ctx, c); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	aggs, err := s.Aggregates(ctx)
	if err != nil {
		t.Fatalf("Aggregates: %v", err)
	}
	if len(aggs) != 2 {
		t.Fatalf("expected 2 tools, got %+v", aggs)
	}
	analyze := aggs[0]
	if analyze.Tool != "analyze" || analyze.Runs != 2 || analyze.Failures != 0 {
		t.Fatalf("unexpected analyze aggregate %+v", analyze)
	}
	if analyze.AvgMS != 200 || analyze.MinMS != 100 || analyze.MaxMS != 300 || analyze.TotalMS != 400 {
		t.Fatalf("unexpected analyze timing %+v", analyze)
	}
	if sep := aggs[1]; sep.Tool != "separate" || sep.Failures != 1 {
		t.Fatalf("unexpected separate aggregate %+v", sep)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := s.Record(ctx, Call{CallID: id, Tool: "status", Transport: "pipe", OK: true}); err != nil {
			t.Fatal(err)
		}
	}
	recent, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 2 || recent[0].CallID != "c" || recent[1].CallID != "b" {
		t.Fatalf("unexpected recent calls %+v", recent)
	}
	if recent[0].StartedAt.IsZero() {
		t.Fatal("expected a start time")
	}
}

func TestRecordPrunesOldRows(t *testing.T) {
	s := openMemory(t)
	s.SetMaxRows(10)
	ctx := context.Background()
	for range pruneEvery {
		if err := s.Record(ctx, Call{CallID: "x", Tool: "status", Transport: "pipe", OK: true}); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Fatalf("expected pruning to keep 10 rows, got %d", n)
	}
}

func TestPersistentLedgerReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()
	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Record(ctx, Call{CallID: "1", Tool: "plot", Transport: "sse", OK: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if n, err := s.Count(ctx); err != nil || n != 1 {
		t.Fatalf("expected persisted call, got %d %v", n, err)
	}
}
