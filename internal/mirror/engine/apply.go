package engine

import (
	"context"
	"fmt"

	"github.com/jverity/tablemirror/internal/mirror/store"
)

// applied describes one change written to a target store. The digest is
// taken from the row values read at apply time so the cached snapshots can
// be updated without another store read. Deletes carry a zero digest.
type applied struct {
	record ChangeRecord
	digest RowDigest
}

// applyDirection writes one direction's resolved change records into the
// target store inside a single transaction. Row values are re-read from the
// origin store at apply time; a row that vanished between detection and
// apply is skipped and reconciled on a later pass.
//
// Any individual write failure rolls back the whole transaction and is
// surfaced to the caller.
func (e *Engine) applyDirection(ctx context.Context, origin, target *store.Store, records []ChangeRecord) ([]applied, error) {
	if len(records) == 0 {
		return nil, nil
	}

	tx, err := target.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var out []applied
	for _, rec := range records {
		if rec.Op == OpDelete {
			if err := target.DeleteRow(ctx, tx, e.spec, rec.KeyValue); err != nil {
				return nil, err
			}
			out = append(out, applied{record: rec})
			continue
		}

		row, ok, err := origin.GetRow(ctx, e.spec, rec.KeyValue)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		if err := target.UpsertRow(ctx, tx, e.spec, row); err != nil {
			return nil, err
		}
		out = append(out, applied{
			record: rec,
			digest: RowDigest{Key: row.Key, Fingerprint: FingerprintRow(e.spec, row)},
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit %s changes: %w", records[0].Origin, err)
	}

	return out, nil
}
