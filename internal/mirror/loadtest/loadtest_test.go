package loadtest

import (
	"context"
	"testing"
	"time"
)

// TestNewBench verifies that a seeded bench has the expected row populations.
func TestNewBench(t *testing.T) {
	b, err := NewBench(t.TempDir(), 100, 0.5)
	if err != nil {
		t.Fatalf("Failed to create bench: %v", err)
	}
	defer b.Close()

	ctx := context.Background()

	srcCount, err := b.Src.RowCount(ctx, &b.Spec)
	if err != nil {
		t.Fatalf("Failed to count src rows: %v", err)
	}
	dstCount, err := b.Dst.RowCount(ctx, &b.Spec)
	if err != nil {
		t.Fatalf("Failed to count dst rows: %v", err)
	}

	// 50 shared + 25 disjoint per side
	if srcCount != 75 {
		t.Errorf("Expected 75 src rows, got %d", srcCount)
	}
	if dstCount != 75 {
		t.Errorf("Expected 75 dst rows, got %d", dstCount)
	}

	t.Logf("Bench stats: %+v", b.GetStats())
}

// TestVerifyConverged validates that the seeded populations merge into the
// full union on both sides.
func TestVerifyConverged(t *testing.T) {
	b, err := NewBench(t.TempDir(), 100, 0.5)
	if err != nil {
		t.Fatalf("Failed to create bench: %v", err)
	}
	defer b.Close()

	count, err := b.VerifyConverged(context.Background())
	if err != nil {
		t.Fatalf("Convergence check failed: %v", err)
	}

	if count != 100 {
		t.Errorf("Expected 100 converged rows, got %d", count)
	}
}

// TestRunPasses_Small verifies passes complete under concurrent writer load.
func TestRunPasses_Small(t *testing.T) {
	b, err := NewBench(t.TempDir(), 200, 0.5)
	if err != nil {
		t.Fatalf("Failed to create bench: %v", err)
	}
	defer b.Close()

	// 10 passes with 4 concurrent writers
	stats, err := b.RunPasses(10, 4)
	if err != nil {
		t.Fatalf("Load run failed: %v", err)
	}

	if stats.Errors > 0 {
		t.Errorf("Got %d errors during passes", stats.Errors)
	}

	if stats.TotalPasses != 10 {
		t.Errorf("Expected 10 total passes, got %d", stats.TotalPasses)
	}

	stats.PrintStats()

	// Writers stopped, so a final quiescent run must converge
	count, err := b.VerifyConverged(context.Background())
	if err != nil {
		t.Fatalf("Convergence check failed: %v", err)
	}
	if count < 200 {
		t.Errorf("Expected at least the seeded 200 rows after convergence, got %d", count)
	}

	if stats.Mean > 5*time.Second {
		t.Errorf("Mean pass time too high: %v", stats.Mean)
	}
}

// TestComputeLatencyStats checks percentile math on a known distribution.
func TestComputeLatencyStats(t *testing.T) {
	durations := make([]time.Duration, 100)
	for i := range durations {
		durations[i] = time.Duration(i+1) * time.Millisecond
	}

	stats := computeLatencyStats(durations)

	if stats.Min != time.Millisecond {
		t.Errorf("Expected min 1ms, got %v", stats.Min)
	}
	if stats.Max != 100*time.Millisecond {
		t.Errorf("Expected max 100ms, got %v", stats.Max)
	}
	if stats.P50 != 51*time.Millisecond {
		t.Errorf("Expected p50 51ms, got %v", stats.P50)
	}
	if stats.P95 != 96*time.Millisecond {
		t.Errorf("Expected p95 96ms, got %v", stats.P95)
	}
	if stats.TotalPasses != 100 {
		t.Errorf("Expected 100 samples, got %d", stats.TotalPasses)
	}
}
