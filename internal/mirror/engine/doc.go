// Package engine implements bidirectional synchronization between two
// independently-writable embedded SQLite stores.
//
// # Overview
//
// The engine keeps one mirrored table converging toward the same state in
// both stores without synchronous coordination and without a network
// transport. Neither store has native change-data-capture support, so the
// engine detects changes by fingerprinting rows and diffing snapshots
// between passes.
//
// # Architecture
//
// One background worker per engine runs the pipeline at a fixed interval:
//
//	SyncLoop wakes
//	     ├── Snapshot src, Snapshot dst        (ChangeDetector)
//	     ├── Diff each side vs its own cache   (DiffComputer)
//	     ├── Resolve same-key collisions       (ConflictResolver, LWW)
//	     ├── Apply src→dst and dst→src         (Applier, one tx each)
//	     └── update cached snapshots, emit event
//
// All stages run sequentially on the worker; passes are strictly
// serialized. Stop is cooperative and never preempts an in-flight pass.
//
// # Observability
//
// Each pass emits exactly one "start" event and exactly one terminal event
// ("end" or "error") on the dedicated "sync" logging channel, with no other
// output from the pipeline under nominal operation. Callers can assert the
// literal event sequence as a correctness check.
//
// # Error handling
//
// A failing stage aborts and rolls back the pass. Direct callers of
// Process see the error synchronously; the background loop absorbs it
// beyond the log line and retries on the next scheduled pass, so a single
// failed pass never halts replication.
//
// # Conflicts
//
// When the same row changed on both sides since the last pass, exactly one
// version survives: last-writer-wins by per-row logical version, src as the
// deterministic tiebreak. The losing concurrent write is discarded; this is
// an accepted availability-favoring trade-off, not a defect.
package engine
