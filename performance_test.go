package taskrun

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestLifecycleOverheadUnder1ms checks that submit plus one full attempt
// (start, run, finish) costs well under a millisecond per task on the
// in-memory backend when the body itself does nothing.
func TestLifecycleOverheadUnder1ms(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := NewInMemory(BundleOptions{})

	const N = 1000

	start := time.Now()
	for i := 0; i < N; i++ {
		_, err := b.Engine.Submit(ctx, SubmitRequest{Name: "perf", Owner: "alice"})
		require.NoError(t, err)
		processed, err := b.Worker.ProcessOne(ctx)
		require.NoError(t, err)
		require.True(t, processed)
	}
	total := time.Since(start)

	if avg := total / N; avg >= time.Millisecond {
		t.Fatalf("average lifecycle overhead too high: %v (total %v for %d tasks)", avg, total, N)
	}
}

// TestMinimalMemoryFootprintUnder5MB checks that an idle in-memory bundle
// retains less than ~5MB of heap.
func TestMinimalMemoryFootprintUnder5MB(t *testing.T) {
	t.Parallel()

	runtime.GC()
	var before runtime.MemStats
	runtime.ReadMemStats(&before)

	b := NewInMemory(BundleOptions{})
	runtime.KeepAlive(b)

	runtime.GC()
	var after runtime.MemStats
	runtime.ReadMemStats(&after)

	const fiveMB = 5 * 1024 * 1024
	used := int64(after.HeapAlloc) - int64(before.HeapAlloc)
	if used < 0 {
		used = 0
	}
	if used >= fiveMB {
		t.Fatalf("minimal memory footprint too high: %d bytes (>= %d)", used, fiveMB)
	}
}

func BenchmarkSubmitAndProcess(b *testing.B) {
	ctx := context.Background()
	bundle := NewInMemory(BundleOptions{})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := bundle.Engine.Submit(ctx, SubmitRequest{Name: "bench", Owner: "alice"}); err != nil {
			b.Fatal(err)
		}
		if _, err := bundle.Worker.ProcessOne(ctx); err != nil {
			b.Fatal(err)
		}
	}
}
