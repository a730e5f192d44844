// Package loadtest provides load testing utilities for the replication engine.
//
// It seeds a pair of stores with divergent data, runs sync passes while
// concurrent writers mutate both sides, and reports pass latency statistics.
// This validates that the engine converges under contention without ever
// blocking external writers.
package loadtest

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jverity/tablemirror/internal/mirror/engine"
	"github.com/jverity/tablemirror/internal/mirror/schema"
	"github.com/jverity/tablemirror/internal/mirror/store"
)

// Bench represents a seeded pair of stores ready for load testing.
type Bench struct {
	Src  *store.Store
	Dst  *store.Store
	Spec schema.TableSpec

	TotalRows int
	SharedPct float64
}

// LatencyStats captures pass latency metrics from load tests.
type LatencyStats struct {
	Min         time.Duration
	Max         time.Duration
	Mean        time.Duration
	P50         time.Duration // Median
	P95         time.Duration
	P99         time.Duration
	TotalPasses int
	Errors      int
	Durations   []time.Duration
}

// NewBench creates a pair of stores under dir, each seeded with numRows rows.
//
// The two stores are populated with:
//   - A shared core of rows present on both sides (sharedPct of numRows),
//     with identical content so the first pass has no conflicts to resolve
//   - Disjoint remainders unique to each side, so the union after one pass
//     is larger than either store
//
// The sharedPct parameter controls what fraction of rows overlap
// (typical: 0.5 for 50%).
func NewBench(dir string, numRows int, sharedPct float64) (*Bench, error) {
	spec := schema.TableSpec{
		Name:       "records",
		PrimaryKey: "id",
		Columns:    []string{"payload", "weight"},
	}

	src, err := store.Open(filepath.Join(dir, "src.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open src store: %w", err)
	}
	dst, err := store.Open(filepath.Join(dir, "dst.db"))
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("failed to open dst store: %w", err)
	}

	b := &Bench{
		Src:       src,
		Dst:       dst,
		Spec:      spec,
		TotalRows: numRows,
		SharedPct: sharedPct,
	}

	if err := b.seed(numRows, sharedPct); err != nil {
		_ = b.Close()
		return nil, err
	}

	return b, nil
}

// seed creates the table on both sides and populates the shared and
// disjoint row populations.
func (b *Bench) seed(numRows int, sharedPct float64) error {
	ctx := context.Background()

	ddl := `CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY,
		payload TEXT,
		weight INTEGER
	)`
	for _, s := range []*store.Store{b.Src, b.Dst} {
		if _, err := s.RawDB().ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create table in %s: %w", s.Path(), err)
		}
	}

	shared := int(float64(numRows) * sharedPct)
	if shared > numRows {
		shared = numRows
	}
	remainder := numRows - shared

	// Deterministic payloads for reproducibility
	rng := rand.New(rand.NewSource(42))

	insert := func(s *store.Store, id int) error {
		_, err := s.RawDB().ExecContext(ctx,
			"INSERT OR REPLACE INTO records (id, payload, weight) VALUES (?, ?, ?)",
			id, fmt.Sprintf("row-%05d", id), rng.Intn(1000))
		return err
	}

	for i := 0; i < shared; i++ {
		weight := rng.Intn(1000)
		for _, s := range []*store.Store{b.Src, b.Dst} {
			_, err := s.RawDB().ExecContext(ctx,
				"INSERT OR REPLACE INTO records (id, payload, weight) VALUES (?, ?, ?)",
				i, fmt.Sprintf("row-%05d", i), weight)
			if err != nil {
				return fmt.Errorf("failed to seed shared row %d: %w", i, err)
			}
		}
	}

	// Disjoint tails, interleaved so neither side holds a contiguous block
	for i := 0; i < remainder; i++ {
		id := shared + i
		target := b.Src
		if i%2 == 1 {
			target = b.Dst
		}
		if err := insert(target, id); err != nil {
			return fmt.Errorf("failed to seed row %d: %w", id, err)
		}
	}

	return nil
}

// Close closes both stores.
func (b *Bench) Close() error {
	var first error
	if b.Src != nil {
		if err := b.Src.Close(); err != nil {
			first = err
		}
	}
	if b.Dst != nil {
		if err := b.Dst.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// RunPasses executes numPasses sync passes while numWriters concurrent
// writers mutate both stores through their own connections.
//
// Each pass runs to completion before the next begins. Returns aggregated
// pass latency statistics.
func (b *Bench) RunPasses(numPasses, numWriters int) (*LatencyStats, error) {
	spec := b.Spec
	spec.PollInterval = time.Hour // passes are driven explicitly

	eng, err := engine.New(b.Src, b.Dst, spec)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	eng.Stop()

	writerCtx, stopWriters := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	writerErrs := make(chan error, numWriters)

	for i := 0; i < numWriters; i++ {
		wg.Add(1)
		go func(writerID int) {
			defer wg.Done()

			target := b.Src
			if writerID%2 == 1 {
				target = b.Dst
			}
			rng := rand.New(rand.NewSource(int64(writerID)))

			for n := 0; ; n++ {
				select {
				case <-writerCtx.Done():
					return
				default:
					id := b.TotalRows + writerID*100000 + n
					_, err := target.RawDB().ExecContext(writerCtx,
						"INSERT OR REPLACE INTO records (id, payload, weight) VALUES (?, ?, ?)",
						id, fmt.Sprintf("writer-%d-%d", writerID, n), rng.Intn(1000))
					if err != nil && writerCtx.Err() == nil {
						writerErrs <- fmt.Errorf("writer %d insert %d failed: %w", writerID, n, err)
						return
					}
					time.Sleep(time.Millisecond)
				}
			}
		}(i)
	}

	durations := make([]time.Duration, 0, numPasses)
	errorCount := 0

	ctx := context.Background()
	for i := 0; i < numPasses; i++ {
		start := time.Now()
		err := eng.Process(ctx)
		durations = append(durations, time.Since(start))
		if err != nil {
			errorCount++
		}
	}

	stopWriters()
	wg.Wait()
	close(writerErrs)

	for err := range writerErrs {
		if err != nil {
			errorCount++
			fmt.Printf("Error: %v\n", err)
		}
	}

	if len(durations) == 0 {
		return nil, fmt.Errorf("no passes completed")
	}

	stats := computeLatencyStats(durations)
	stats.Errors = errorCount

	return stats, nil
}

// VerifyConverged checks that both stores hold the same row count after a
// final quiescent pass. Returns the converged count.
func (b *Bench) VerifyConverged(ctx context.Context) (int, error) {
	spec := b.Spec
	spec.PollInterval = time.Hour

	eng, err := engine.New(b.Src, b.Dst, spec)
	if err != nil {
		return 0, fmt.Errorf("failed to create engine: %w", err)
	}
	eng.Stop()

	// Two passes: the first publishes outstanding changes, the second
	// confirms nothing is left to move.
	for i := 0; i < 2; i++ {
		if err := eng.Process(ctx); err != nil {
			return 0, fmt.Errorf("convergence pass failed: %w", err)
		}
	}

	srcCount, err := b.Src.RowCount(ctx, &b.Spec)
	if err != nil {
		return 0, fmt.Errorf("failed to count src rows: %w", err)
	}
	dstCount, err := b.Dst.RowCount(ctx, &b.Spec)
	if err != nil {
		return 0, fmt.Errorf("failed to count dst rows: %w", err)
	}

	if srcCount != dstCount {
		return 0, fmt.Errorf("stores diverged: src has %d rows, dst has %d", srcCount, dstCount)
	}

	return srcCount, nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	// Sort durations for percentile calculation
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	// Calculate mean
	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	mean := sum / time.Duration(len(durations))

	// Calculate percentiles
	p50 := sorted[len(sorted)*50/100]
	p95 := sorted[len(sorted)*95/100]
	p99 := sorted[len(sorted)*99/100]

	return &LatencyStats{
		Min:         sorted[0],
		Max:         sorted[len(sorted)-1],
		Mean:        mean,
		P50:         p50,
		P95:         p95,
		P99:         p99,
		TotalPasses: len(durations),
		Durations:   sorted,
	}
}

// PrintStats formats and prints latency statistics.
func (s *LatencyStats) PrintStats() {
	fmt.Printf("Pass Latency Statistics:\n")
	fmt.Printf("  Total Passes:  %d\n", s.TotalPasses)
	fmt.Printf("  Errors:        %d\n", s.Errors)
	fmt.Printf("  Min:           %v\n", s.Min)
	fmt.Printf("  P50 (Median):  %v\n", s.P50)
	fmt.Printf("  Mean:          %v\n", s.Mean)
	fmt.Printf("  P95:           %v\n", s.P95)
	fmt.Printf("  P99:           %v\n", s.P99)
	fmt.Printf("  Max:           %v\n", s.Max)
}

// GetStats returns statistics about the seeded bench.
func (b *Bench) GetStats() map[string]interface{} {
	shared := int(float64(b.TotalRows) * b.SharedPct)
	return map[string]interface{}{
		"total_rows":     b.TotalRows,
		"shared_rows":    shared,
		"disjoint_rows":  b.TotalRows - shared,
		"shared_percent": b.SharedPct * 100,
	}
}
