package engine

import "sort"

// Origin identifies which store a change was observed on.
type Origin int

const (
	// OriginSrc marks changes detected on the primary store.
	OriginSrc Origin = iota
	// OriginDst marks changes detected on the replica store.
	OriginDst
)

// String returns a human-readable representation of the origin.
func (o Origin) String() string {
	switch o {
	case OriginSrc:
		return "src"
	case OriginDst:
		return "dst"
	default:
		return "unknown"
	}
}

// ChangeOp is the kind of change a record describes.
type ChangeOp int

const (
	// OpInsert indicates a row that appeared since the previous snapshot.
	OpInsert ChangeOp = iota
	// OpUpdate indicates a row whose fingerprint changed.
	OpUpdate
	// OpDelete indicates a row that disappeared. Only emitted when the
	// table spec enables delete propagation.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op ChangeOp) String() string {
	switch op {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ChangeRecord describes one row change observed on one side since that
// side's previous snapshot. Records are transient: produced and consumed
// within a single pass, never persisted.
type ChangeRecord struct {
	// Key is the canonical primary-key form (snapshot map key).
	Key string
	// KeyValue is the typed primary-key value for store operations.
	KeyValue any
	// Origin is the store the change was observed on.
	Origin Origin
	// Op is the change kind.
	Op ChangeOp
	// Fingerprint is the row's content fingerprint at detection time.
	// Empty for deletes.
	Fingerprint string
}

// ConflictRecord pairs two change records for the same row id, one from each
// origin, observed within the same pass.
type ConflictRecord struct {
	Src ChangeRecord
	Dst ChangeRecord
}

// Diff compares a side's previous snapshot against its current one and
// returns that side's changes in canonical key order.
//
// A key present only in current is an insert; a key present in both with a
// differing fingerprint is an update. A key present only in previous is a
// delete, emitted only when includeDeletes is set: deletion propagation is
// an explicit opt-in, not an inferred behavior.
func Diff(previous, current RowSnapshot, origin Origin, includeDeletes bool) []ChangeRecord {
	var records []ChangeRecord

	for key, digest := range current {
		prev, ok := previous[key]
		switch {
		case !ok:
			records = append(records, ChangeRecord{
				Key:         key,
				KeyValue:    digest.Key,
				Origin:      origin,
				Op:          OpInsert,
				Fingerprint: digest.Fingerprint,
			})
		case prev.Fingerprint != digest.Fingerprint:
			records = append(records, ChangeRecord{
				Key:         key,
				KeyValue:    digest.Key,
				Origin:      origin,
				Op:          OpUpdate,
				Fingerprint: digest.Fingerprint,
			})
		}
	}

	if includeDeletes {
		for key, digest := range previous {
			if _, ok := current[key]; !ok {
				records = append(records, ChangeRecord{
					Key:      key,
					KeyValue: digest.Key,
					Origin:   origin,
					Op:       OpDelete,
				})
			}
		}
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records
}
