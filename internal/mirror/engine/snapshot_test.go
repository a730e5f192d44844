package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jverity/tablemirror/internal/mirror/schema"
	"github.com/jverity/tablemirror/internal/mirror/store"
)

func TestFingerprintColumnOrderIndependent(t *testing.T) {
	a := &schema.TableSpec{Name: "t", PrimaryKey: "id", Columns: []string{"x", "y"}}
	b := &schema.TableSpec{Name: "t", PrimaryKey: "id", Columns: []string{"y", "x"}}

	fpA := FingerprintRow(a, store.Row{Key: int64(1), Values: []any{"vx", "vy"}})
	fpB := FingerprintRow(b, store.Row{Key: int64(1), Values: []any{"vy", "vx"}})

	if fpA != fpB {
		t.Errorf("fingerprints differ for column-order permutations: %s vs %s", fpA, fpB)
	}
}

func TestFingerprintDistinguishesContent(t *testing.T) {
	spec := &schema.TableSpec{Name: "t", PrimaryKey: "id", Columns: []string{"x"}}

	fp1 := FingerprintRow(spec, store.Row{Key: int64(1), Values: []any{"a"}})
	fp2 := FingerprintRow(spec, store.Row{Key: int64(1), Values: []any{"b"}})
	if fp1 == fp2 {
		t.Error("different values produced the same fingerprint")
	}

	// Typed canonical forms keep the integer 1 and the text "1" apart.
	fpInt := FingerprintRow(spec, store.Row{Key: int64(1), Values: []any{int64(1)}})
	fpText := FingerprintRow(spec, store.Row{Key: int64(1), Values: []any{"1"}})
	if fpInt == fpText {
		t.Error("integer and text values collided")
	}

	fpNil := FingerprintRow(spec, store.Row{Key: int64(1), Values: []any{nil}})
	fpEmpty := FingerprintRow(spec, store.Row{Key: int64(1), Values: []any{""}})
	if fpNil == fpEmpty {
		t.Error("NULL and empty string collided")
	}
}

func TestSnapshot(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "snap.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer s.Close()

	if _, err := s.RawDB().Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, value TEXT)`); err != nil {
		t.Fatalf("failed to create table: %v", err)
	}
	if _, err := s.RawDB().Exec(`INSERT INTO items (id, value) VALUES (1, 'a'), (2, 'b')`); err != nil {
		t.Fatalf("failed to insert rows: %v", err)
	}

	spec := &schema.TableSpec{Name: "items", PrimaryKey: "id", Columns: []string{"value"}}
	snap, err := Snapshot(context.Background(), s, spec)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}
	if _, ok := snap["i:1"]; !ok {
		t.Error("missing canonical key i:1")
	}
	if snap["i:1"].Fingerprint == snap["i:2"].Fingerprint {
		t.Error("distinct rows share a fingerprint")
	}

	// Snapshotting again without writes is stable.
	again, err := Snapshot(context.Background(), s, spec)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	for key, d := range snap {
		if again[key].Fingerprint != d.Fingerprint {
			t.Errorf("fingerprint for %s changed between identical reads", key)
		}
	}
}
