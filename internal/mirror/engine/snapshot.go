package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jverity/tablemirror/internal/mirror/schema"
	"github.com/jverity/tablemirror/internal/mirror/store"
)

// RowDigest is the point-in-time identity of one row: its typed primary-key
// value and a fingerprint of its tracked column contents.
type RowDigest struct {
	Key         any
	Fingerprint string
}

// RowSnapshot maps the canonical primary-key form of every row in one store
// to its digest at one instant. Two snapshots (one per side) are cached by
// the engine and refreshed at the start of every pass.
type RowSnapshot map[string]RowDigest

// Snapshot reads all rows of the mirrored table from s in primary-key order
// and fingerprints each one. It performs a single consistent read and holds
// no lock beyond it, and has no side effects on engine state.
func Snapshot(ctx context.Context, s *store.Store, spec *schema.TableSpec) (RowSnapshot, error) {
	rows, err := s.Rows(ctx, spec)
	if err != nil {
		return nil, err
	}

	snap := make(RowSnapshot, len(rows))
	for _, row := range rows {
		snap[CanonicalKey(row.Key)] = RowDigest{
			Key:         row.Key,
			Fingerprint: FingerprintRow(spec, row),
		}
	}
	return snap, nil
}

// FingerprintRow computes a deterministic, column-order-independent
// fingerprint of the row's tracked columns. Pairs are sorted by column name
// before hashing so two specs listing the same columns in different orders
// fingerprint identically.
func FingerprintRow(spec *schema.TableSpec, row store.Row) string {
	pairs := make([]string, len(spec.Columns))
	for i, col := range spec.Columns {
		pairs[i] = col + "=" + canonicalValue(row.Values[i])
	}
	sort.Strings(pairs)

	sum := sha256.Sum256([]byte(strings.Join(pairs, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// CanonicalKey renders a primary-key value in a stable, type-tagged form
// usable as a map key. SQLite's column affinity converts the canonical text
// back when it is bound in a WHERE clause.
func CanonicalKey(key any) string {
	return canonicalValue(key)
}

// canonicalValue renders a scanned SQLite value with an explicit type tag so
// that, for example, the integer 1 and the text "1" never collide.
func canonicalValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "n:"
	case int64:
		return "i:" + strconv.FormatInt(x, 10)
	case float64:
		return "f:" + strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return "b:" + strconv.FormatBool(x)
	case string:
		return "s:" + x
	case []byte:
		return "x:" + hex.EncodeToString(x)
	case time.Time:
		return "t:" + x.UTC().Format(time.RFC3339Nano)
	default:
		return "v:" + fmt.Sprintf("%v", x)
	}
}
