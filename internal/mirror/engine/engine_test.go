package engine

import (
	"bytes"
	"context"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jverity/tablemirror/internal/mirror/schema"
	"github.com/jverity/tablemirror/internal/mirror/store"
)

func itemsSpec() schema.TableSpec {
	return schema.TableSpec{
		Name:         "items",
		PrimaryKey:   "id",
		Columns:      []string{"value"},
		PollInterval: time.Hour, // direct Process calls drive these tests
	}
}

// openStore opens a temporary store, optionally creating the items table.
func openStore(t *testing.T, withTable bool) *store.Store {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if withTable {
		createItems(t, s)
	}
	return s
}

func createItems(t *testing.T, s *store.Store) {
	t.Helper()
	if _, err := s.RawDB().Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, value TEXT)`); err != nil {
		t.Fatalf("failed to create items table: %v", err)
	}
}

func insertItem(t *testing.T, s *store.Store, id int64, value string) {
	t.Helper()
	if _, err := s.RawDB().Exec(`INSERT OR REPLACE INTO items (id, value) VALUES (?, ?)`, id, value); err != nil {
		t.Fatalf("failed to write item %d: %v", id, err)
	}
}

// stoppedEngine constructs an engine, waits out its initial pass, and stops
// the loop so the test can drive passes synchronously via Process.
func stoppedEngine(t *testing.T, src, dst *store.Store, spec schema.TableSpec, opts ...Option) *Engine {
	t.Helper()

	eng, err := New(src, dst, spec, opts...)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	eng.Stop()
	return eng
}

func itemValues(t *testing.T, s *store.Store) map[string]string {
	t.Helper()

	spec := itemsSpec()
	rows, err := s.Rows(context.Background(), &spec)
	if err != nil {
		t.Fatalf("failed to read items: %v", err)
	}

	out := make(map[string]string, len(rows))
	for _, row := range rows {
		out[CanonicalKey(row.Key)] = row.Values[0].(string)
	}
	return out
}

func sameValues(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func logLines(buf *bytes.Buffer) []string {
	return strings.Split(strings.TrimSpace(buf.String()), "\n")
}

func TestProcessEventSequence(t *testing.T) {
	src := openStore(t, true)
	dst := openStore(t, true)

	var buf bytes.Buffer
	eng := stoppedEngine(t, src, dst, itemsSpec(), WithLogger(log.New(&buf, "[sync] ", 0)))
	buf.Reset()

	if err := eng.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	want := []string{"[sync] start", "[sync] end"}
	got := logLines(&buf)
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected exactly %v, got %v", want, got)
	}
}

func TestProcessDetectorFailure(t *testing.T) {
	src := openStore(t, true)
	dst := openStore(t, false) // items table missing on the replica

	var buf bytes.Buffer
	eng := stoppedEngine(t, src, dst, itemsSpec(), WithLogger(log.New(&buf, "[sync] ", 0)))
	buf.Reset()

	if err := eng.Process(context.Background()); err == nil {
		t.Fatal("expected error from missing table, got nil")
	}

	want := []string{"[sync] start", "[sync] error"}
	got := logLines(&buf)
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected exactly %v, got %v", want, got)
	}
}

func TestProcessApplierFailure(t *testing.T) {
	src := openStore(t, true)

	// The replica rejects the value so the upsert fails mid-transaction.
	dst, err := store.Open(filepath.Join(t.TempDir(), "checked.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { dst.Close() })
	if _, err := dst.RawDB().Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, value TEXT CHECK (value <> 'boom'))`); err != nil {
		t.Fatalf("failed to create checked table: %v", err)
	}

	var buf bytes.Buffer
	eng := stoppedEngine(t, src, dst, itemsSpec(), WithLogger(log.New(&buf, "[sync] ", 0)))

	insertItem(t, src, 1, "ok")
	insertItem(t, src, 2, "boom")
	buf.Reset()

	if err := eng.Process(context.Background()); err == nil {
		t.Fatal("expected applier error, got nil")
	}

	want := []string{"[sync] start", "[sync] error"}
	got := logLines(&buf)
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("expected exactly %v, got %v", want, got)
	}

	// The whole direction rolled back: not even the valid row landed.
	if vals := itemValues(t, dst); len(vals) != 0 {
		t.Errorf("expected rollback to leave replica empty, got %v", vals)
	}
}

func TestInsertUnionConvergence(t *testing.T) {
	src := openStore(t, true)
	dst := openStore(t, true)
	eng := stoppedEngine(t, src, dst, itemsSpec(), WithLogger(log.New(io.Discard, "", 0)))

	for i := int64(1); i <= 3; i++ {
		insertItem(t, src, i, "src")
	}
	for i := int64(4); i <= 6; i++ {
		insertItem(t, dst, i, "dst")
	}

	if err := eng.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	srcVals := itemValues(t, src)
	dstVals := itemValues(t, dst)
	if len(srcVals) != 6 || !sameValues(srcVals, dstVals) {
		t.Errorf("expected both sides to hold the union of 6 rows, got src=%v dst=%v", srcVals, dstVals)
	}
}

func TestDisjointUpdatesConverge(t *testing.T) {
	src := openStore(t, true)
	dst := openStore(t, true)
	eng := stoppedEngine(t, src, dst, itemsSpec(), WithLogger(log.New(io.Discard, "", 0)))
	ctx := context.Background()

	insertItem(t, src, 1, "a")
	insertItem(t, src, 2, "b")
	if err := eng.Process(ctx); err != nil {
		t.Fatalf("seed pass failed: %v", err)
	}

	insertItem(t, src, 1, "a2")
	insertItem(t, dst, 2, "b2")
	if err := eng.Process(ctx); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	want := map[string]string{"i:1": "a2", "i:2": "b2"}
	for _, s := range []*store.Store{src, dst} {
		if got := itemValues(t, s); !sameValues(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	}
}

func TestConflictSrcWinsOnTie(t *testing.T) {
	src := openStore(t, true)
	dst := openStore(t, true)

	var conflicts []ChangeRecord
	eng := stoppedEngine(t, src, dst, itemsSpec(),
		WithLogger(log.New(io.Discard, "", 0)),
		WithConflictHook(func(_ ConflictRecord, winner ChangeRecord) {
			conflicts = append(conflicts, winner)
		}))

	insertItem(t, src, 1, "from-src")
	insertItem(t, dst, 1, "from-dst")

	if err := eng.Process(context.Background()); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(conflicts) != 1 {
		t.Fatalf("expected exactly 1 conflict, got %d", len(conflicts))
	}
	if conflicts[0].Origin != OriginSrc {
		t.Errorf("expected src to win the tie, winner origin was %s", conflicts[0].Origin)
	}

	want := map[string]string{"i:1": "from-src"}
	for _, s := range []*store.Store{src, dst} {
		if got := itemValues(t, s); !sameValues(got, want) {
			t.Errorf("expected %v on both sides, got %v", want, got)
		}
	}
}

func TestConflictLastWriterWins(t *testing.T) {
	src := openStore(t, true)
	dst := openStore(t, true)
	eng := stoppedEngine(t, src, dst, itemsSpec(), WithLogger(log.New(io.Discard, "", 0)))
	ctx := context.Background()

	// One src-origin apply, then two dst-origin applies: the replica's
	// logical version for the row pulls ahead.
	insertItem(t, src, 1, "v0")
	if err := eng.Process(ctx); err != nil {
		t.Fatalf("pass failed: %v", err)
	}
	insertItem(t, dst, 1, "v1")
	if err := eng.Process(ctx); err != nil {
		t.Fatalf("pass failed: %v", err)
	}
	insertItem(t, dst, 1, "v2")
	if err := eng.Process(ctx); err != nil {
		t.Fatalf("pass failed: %v", err)
	}

	// Now a genuine concurrent conflict: dst has the higher version.
	insertItem(t, src, 1, "src-race")
	insertItem(t, dst, 1, "dst-race")
	if err := eng.Process(ctx); err != nil {
		t.Fatalf("pass failed: %v", err)
	}

	want := map[string]string{"i:1": "dst-race"}
	for _, s := range []*store.Store{src, dst} {
		if got := itemValues(t, s); !sameValues(got, want) {
			t.Errorf("expected last writer (dst) to win, got %v", got)
		}
	}
}

func TestIdempotence(t *testing.T) {
	src := openStore(t, true)
	dst := openStore(t, true)

	var buf bytes.Buffer
	eng := stoppedEngine(t, src, dst, itemsSpec(), WithLogger(log.New(&buf, "[sync] ", 0)))
	ctx := context.Background()

	insertItem(t, src, 1, "a")
	if err := eng.Process(ctx); err != nil {
		t.Fatalf("seed pass failed: %v", err)
	}

	before := itemValues(t, dst)
	buf.Reset()

	for i := 0; i < 2; i++ {
		if err := eng.Process(ctx); err != nil {
			t.Fatalf("pass %d failed: %v", i+1, err)
		}
	}

	if got := itemValues(t, dst); !sameValues(got, before) {
		t.Errorf("expected no data changes, got %v", got)
	}
	if got := logLines(&buf); len(got) != 4 {
		t.Errorf("expected exactly 4 lifecycle events for 2 passes, got %v", got)
	}
}

func TestDeletePropagationEnabled(t *testing.T) {
	src := openStore(t, true)
	dst := openStore(t, true)

	spec := itemsSpec()
	spec.PropagateDeletes = true
	eng := stoppedEngine(t, src, dst, spec, WithLogger(log.New(io.Discard, "", 0)))
	ctx := context.Background()

	insertItem(t, src, 1, "a")
	if err := eng.Process(ctx); err != nil {
		t.Fatalf("seed pass failed: %v", err)
	}

	if _, err := src.RawDB().Exec(`DELETE FROM items WHERE id = 1`); err != nil {
		t.Fatalf("failed to delete row: %v", err)
	}
	if err := eng.Process(ctx); err != nil {
		t.Fatalf("pass failed: %v", err)
	}

	if got := itemValues(t, dst); len(got) != 0 {
		t.Errorf("expected delete to propagate to replica, got %v", got)
	}
}

func TestDeleteRefilledWhenPropagationDisabled(t *testing.T) {
	src := openStore(t, true)
	dst := openStore(t, true)
	eng := stoppedEngine(t, src, dst, itemsSpec(), WithLogger(log.New(io.Discard, "", 0)))
	ctx := context.Background()

	insertItem(t, src, 1, "a")
	if err := eng.Process(ctx); err != nil {
		t.Fatalf("seed pass failed: %v", err)
	}

	if _, err := src.RawDB().Exec(`DELETE FROM items WHERE id = 1`); err != nil {
		t.Fatalf("failed to delete row: %v", err)
	}
	if err := eng.Process(ctx); err != nil {
		t.Fatalf("pass failed: %v", err)
	}

	want := map[string]string{"i:1": "a"}
	for _, s := range []*store.Store{src, dst} {
		if got := itemValues(t, s); !sameValues(got, want) {
			t.Errorf("expected deleted row re-filled from surviving side, got %v", got)
		}
	}
}

func TestBackgroundLoopConverges(t *testing.T) {
	src := openStore(t, true)
	dst := openStore(t, true)

	spec := itemsSpec()
	spec.PollInterval = 50 * time.Millisecond

	eng, err := New(src, dst, spec, WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer eng.Stop()

	// External writer on its own connection to the same file.
	writer, err := store.Open(src.Path())
	if err != nil {
		t.Fatalf("failed to open writer connection: %v", err)
	}
	defer writer.Close()
	insertItem(t, writer, 1, "a")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if vals := itemValues(t, dst); len(vals) == 1 && vals["i:1"] == "a" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("row did not replicate within the polling window, replica has %v", itemValues(t, dst))
}

func TestLoopSurvivesFailedPass(t *testing.T) {
	src := openStore(t, true)
	dst := openStore(t, false) // passes fail until the table appears

	spec := itemsSpec()
	spec.PollInterval = 50 * time.Millisecond

	eng, err := New(src, dst, spec, WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer eng.Stop()

	insertItem(t, src, 1, "a")

	// Let a few passes fail, then make the replica usable.
	time.Sleep(150 * time.Millisecond)
	createItems(t, dst)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if vals := itemValues(t, dst); vals["i:1"] == "a" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("loop did not recover after failed passes")
}

func TestStopIdempotent(t *testing.T) {
	src := openStore(t, true)
	dst := openStore(t, true)

	eng, err := New(src, dst, itemsSpec(), WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	eng.Stop()
	eng.Stop()

	if eng.Running() {
		t.Error("expected engine to report stopped")
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	src := openStore(t, true)

	if _, err := New(nil, src, itemsSpec()); err == nil {
		t.Error("expected error for nil store")
	}

	bad := itemsSpec()
	bad.PrimaryKey = "id; DROP TABLE items"
	if _, err := New(src, src, bad); err == nil {
		t.Error("expected error for invalid spec")
	}
}
