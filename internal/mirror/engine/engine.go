package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/jverity/tablemirror/internal/mirror/schema"
	"github.com/jverity/tablemirror/internal/mirror/store"
)

// Phase is the lifecycle phase of a sync pass.
type Phase string

const (
	// PhaseStart is emitted when a pass begins.
	PhaseStart Phase = "start"
	// PhaseEnd is emitted when a pass completes successfully.
	PhaseEnd Phase = "end"
	// PhaseError is emitted when any pipeline stage fails.
	PhaseError Phase = "error"
)

// SyncEvent is one observability event on the "sync" channel. Every pass
// emits exactly one start event and exactly one terminal (end or error)
// event, and nothing else.
type SyncEvent struct {
	Phase Phase
	Err   error
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithLogger sets the logger for the "sync" event channel.
// If unset, a default logger writing to stderr is used.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithEventHook registers a callback invoked for every SyncEvent, after the
// event has been logged. The hook runs on the pass goroutine and should
// return quickly.
func WithEventHook(hook func(SyncEvent)) Option {
	return func(e *Engine) { e.eventHook = hook }
}

// WithConflictHook registers a callback invoked once per resolved conflict
// with the conflicting pair and the surviving record.
func WithConflictHook(hook func(ConflictRecord, ChangeRecord)) Option {
	return func(e *Engine) { e.conflictHook = hook }
}

// WithNudge supplies a channel that triggers a pass ahead of the poll
// schedule when it receives. Used by the daemon to react to file changes.
func WithNudge(nudge <-chan struct{}) Option {
	return func(e *Engine) { e.nudge = nudge }
}

// Engine keeps one table consistent between two independently-writable
// SQLite stores by running a detect-diff-resolve-apply pass on a background
// worker at a fixed interval.
//
// The engine owns its snapshot cache and conflict version counters; it does
// not own the stores, and it never blocks external writers. Other
// connections may read and write either store at any time; consistency is
// eventual, reconciled only at pass boundaries.
type Engine struct {
	spec *schema.TableSpec
	src  *store.Store
	dst  *store.Store

	logger       *log.Logger
	eventHook    func(SyncEvent)
	conflictHook func(ConflictRecord, ChangeRecord)
	nudge        <-chan struct{}

	// passMu serializes passes: pass N+1 never starts before pass N
	// returns, whether invoked by the loop or directly via Process.
	passMu  sync.Mutex
	prevSrc RowSnapshot
	prevDst RowSnapshot
	res     *resolver

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	running bool
}

// New creates an Engine mirroring spec's table between src and dst and
// immediately starts its background worker; replication begins at once.
//
// Call Stop to halt the worker. The stores are not closed by the engine.
//
// Example:
//
//	src, _ := store.Open("primary.db")
//	dst, _ := store.Open("replica.db")
//	eng, err := engine.New(src, dst, schema.TableSpec{
//	    Name:       "items",
//	    PrimaryKey: "id",
//	    Columns:    []string{"value"},
//	})
//	if err != nil {
//	    return err
//	}
//	defer eng.Stop()
func New(src, dst *store.Store, spec schema.TableSpec, opts ...Option) (*Engine, error) {
	if src == nil || dst == nil {
		return nil, fmt.Errorf("both stores are required")
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid table spec: %w", err)
	}

	e := &Engine{
		spec:    &spec,
		src:     src,
		dst:     dst,
		prevSrc: make(RowSnapshot),
		prevDst: make(RowSnapshot),
		res:     newResolver(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}

	e.running = true
	e.wg.Add(1)
	go e.loop()

	return e, nil
}

// Stop signals the worker to exit after its current pass finishes and waits
// for it. Idempotent: stopping a stopped engine is a no-op.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.done) })
	e.wg.Wait()

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

// Running reports whether the background worker is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// loop is the background worker: one pass per poll interval, the first one
// run promptly so convergence begins right after construction. A failed
// pass has already emitted its error event, so the loop simply proceeds to
// the next scheduled iteration; one bad pass never terminates the worker.
func (e *Engine) loop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.spec.Interval())
	defer ticker.Stop()

	select {
	case <-e.done:
		return
	default:
		_ = e.Process(context.Background())
	}

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
		case <-e.nudge:
		}

		_ = e.Process(context.Background())
	}
}

// Process runs exactly one synchronization pass and returns its error, if
// any, to the caller. Behavior is identical whether invoked directly or by
// the loop; only the caller decides whether the error propagates (direct
// call) or is absorbed (loop).
//
// The pass always emits "start" first, then "end" on success or "error" on
// failure of any stage.
func (e *Engine) Process(ctx context.Context) error {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	e.emit(SyncEvent{Phase: PhaseStart})

	if err := e.pass(ctx); err != nil {
		e.emit(SyncEvent{Phase: PhaseError, Err: err})
		return err
	}

	e.emit(SyncEvent{Phase: PhaseEnd})
	return nil
}

// pass executes the detect -> diff -> resolve -> apply pipeline in both
// directions and updates the cached snapshots. On error the caches are left
// untouched, so the next pass re-detects everything still outstanding.
func (e *Engine) pass(ctx context.Context) error {
	curSrc, err := Snapshot(ctx, e.src, e.spec)
	if err != nil {
		return err
	}
	curDst, err := Snapshot(ctx, e.dst, e.spec)
	if err != nil {
		return err
	}

	srcChanges := Diff(e.prevSrc, curSrc, OriginSrc, e.spec.PropagateDeletes)
	dstChanges := Diff(e.prevDst, curDst, OriginDst, e.spec.PropagateDeletes)

	// With delete propagation off, a row present on exactly one side is
	// re-filled from the surviving copy so both stores converge to the
	// union; a deletion is effectively undone on the next pass.
	if !e.spec.PropagateDeletes {
		srcChanges = backfill(srcChanges, curSrc, curDst, OriginSrc)
		dstChanges = backfill(dstChanges, curDst, curSrc, OriginDst)
	}

	srcChanges, dstChanges = e.reconcile(srcChanges, dstChanges)

	appliedToDst, err := e.applyDirection(ctx, e.src, e.dst, srcChanges)
	if err != nil {
		return err
	}
	appliedToSrc, err := e.applyDirection(ctx, e.dst, e.src, dstChanges)
	if err != nil {
		return err
	}

	for _, a := range append(appliedToDst, appliedToSrc...) {
		if a.record.Op == OpDelete {
			e.res.Forget(a.record.Key)
			continue
		}
		e.res.Applied(a.record.Origin, a.record.Key)
	}

	// Fold the engine's own writes into the new cached snapshots so they
	// are not re-detected as external changes on the next pass.
	mergeApplied(curSrc, appliedToSrc)
	mergeApplied(curDst, appliedToDst)
	e.prevSrc = curSrc
	e.prevDst = curDst

	return nil
}

// reconcile resolves every row id that changed on both sides in this pass,
// keeping only the winner's record in its direction. Conflict resolution
// never fails and is not an error condition.
func (e *Engine) reconcile(srcChanges, dstChanges []ChangeRecord) ([]ChangeRecord, []ChangeRecord) {
	dstByKey := make(map[string]int, len(dstChanges))
	for i, rec := range dstChanges {
		dstByKey[rec.Key] = i
	}

	dropDst := make(map[string]bool)
	keptSrc := srcChanges[:0]
	for _, rec := range srcChanges {
		i, ok := dstByKey[rec.Key]
		if !ok {
			keptSrc = append(keptSrc, rec)
			continue
		}

		// Both sides already hold the same content (or both deleted):
		// nothing to resolve or apply in either direction.
		if rec.Fingerprint == dstChanges[i].Fingerprint {
			dropDst[rec.Key] = true
			continue
		}

		conflict := ConflictRecord{Src: rec, Dst: dstChanges[i]}
		winner := e.res.Resolve(conflict)
		if e.conflictHook != nil {
			e.conflictHook(conflict, winner)
		}

		if winner.Origin == OriginSrc {
			keptSrc = append(keptSrc, rec)
			dropDst[rec.Key] = true
		}
	}

	keptDst := dstChanges[:0]
	for _, rec := range dstChanges {
		if !dropDst[rec.Key] {
			keptDst = append(keptDst, rec)
		}
	}

	return keptSrc, keptDst
}

// emit writes the event's literal phase token to the "sync" channel and
// invokes the event hook, if any.
func (e *Engine) emit(ev SyncEvent) {
	e.logger.Print(string(ev.Phase))
	if e.eventHook != nil {
		e.eventHook(ev)
	}
}

// backfill appends an insert record for every row present in have but
// absent from other and not already covered by a detected change.
func backfill(changes []ChangeRecord, have, other RowSnapshot, origin Origin) []ChangeRecord {
	seen := make(map[string]bool, len(changes))
	for _, rec := range changes {
		seen[rec.Key] = true
	}

	for key, digest := range have {
		if _, ok := other[key]; ok || seen[key] {
			continue
		}
		changes = append(changes, ChangeRecord{
			Key:         key,
			KeyValue:    digest.Key,
			Origin:      origin,
			Op:          OpInsert,
			Fingerprint: digest.Fingerprint,
		})
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Key < changes[j].Key })
	return changes
}

// mergeApplied folds applied changes into a snapshot that is about to
// become the cached previous snapshot for its side.
func mergeApplied(snap RowSnapshot, changes []applied) {
	for _, a := range changes {
		if a.record.Op == OpDelete {
			delete(snap, a.record.Key)
			continue
		}
		snap[a.record.Key] = a.digest
	}
}
