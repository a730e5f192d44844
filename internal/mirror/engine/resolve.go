package engine

// resolver implements last-writer-wins conflict resolution using per-row
// logical version counters. The engine bumps a row's counter for an origin
// every time it applies a change that originated there, so the side whose
// write the engine accepted most recently carries the higher version.
//
// Resolution never fails and always yields exactly one winner; the losing
// concurrent write is discarded. This favors availability: both stores stay
// independently writable at all times.
type resolver struct {
	versions map[Origin]map[string]int64
}

func newResolver() *resolver {
	return &resolver{
		versions: map[Origin]map[string]int64{
			OriginSrc: make(map[string]int64),
			OriginDst: make(map[string]int64),
		},
	}
}

// Resolve picks the surviving record for a row that changed on both sides
// within the same pass. The record with the higher applied version wins.
// On equal versions the src record wins: src changes are detected first in
// every pass, so first arrival is the deterministic tiebreak and resolution
// always terminates.
func (r *resolver) Resolve(c ConflictRecord) ChangeRecord {
	srcVer := r.versions[OriginSrc][c.Src.Key]
	dstVer := r.versions[OriginDst][c.Dst.Key]

	if dstVer > srcVer {
		return c.Dst
	}
	return c.Src
}

// Applied records that the engine applied a change for key that originated
// on origin, bumping that row's logical version.
func (r *resolver) Applied(origin Origin, key string) {
	r.versions[origin][key]++
}

// Forget drops version state for a row, called after a delete has been
// propagated so counters do not grow unboundedly for dead rows.
func (r *resolver) Forget(key string) {
	delete(r.versions[OriginSrc], key)
	delete(r.versions[OriginDst], key)
}
