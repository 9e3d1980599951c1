// ring_test.go — FIFO law and resize behavior for the bounded ring.
package buffers

import (
	"fmt"
	"testing"
)

func TestRing_FIFOLaw(t *testing.T) {
	t.Parallel()

	// After N adds with capacity C, the ring holds exactly the last
	// min(N, C) entries in insertion order.
	for _, tc := range []struct {
		name     string
		capacity int
		adds     int
	}{
		{"under capacity", 5, 3},
		{"exactly capacity", 5, 5},
		{"wrapped once", 5, 8},
		{"wrapped many times", 5, 23},
		{"capacity one", 1, 7},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := NewRing[int](tc.capacity)
			for i := 0; i < tc.adds; i++ {
				r.Add(i)
			}

			want := tc.adds
			if want > tc.capacity {
				want = tc.capacity
			}
			got := r.Snapshot()
			if len(got) != want {
				t.Fatalf("Snapshot length = %d, want %d", len(got), want)
			}
			for i, v := range got {
				expected := tc.adds - want + i
				if v != expected {
					t.Fatalf("Snapshot[%d] = %d, want %d", i, v, expected)
				}
			}
			if r.TotalAdded() != int64(tc.adds) {
				t.Fatalf("TotalAdded = %d, want %d", r.TotalAdded(), tc.adds)
			}
		})
	}
}

func TestRing_SnapshotIsACopy(t *testing.T) {
	t.Parallel()
	r := NewRing[string](3)
	r.Add("a")
	r.Add("b")

	snap := r.Snapshot()
	snap[0] = "mutated"

	if got := r.Snapshot()[0]; got != "a" {
		t.Fatalf("ring contents changed through snapshot: got %q", got)
	}
}

func TestRing_SetCapacity(t *testing.T) {
	t.Parallel()

	t.Run("shrink keeps newest", func(t *testing.T) {
		t.Parallel()
		r := NewRing[int](10)
		for i := 0; i < 10; i++ {
			r.Add(i)
		}
		r.SetCapacity(4)

		got := r.Snapshot()
		want := []int{6, 7, 8, 9}
		if len(got) != len(want) {
			t.Fatalf("after shrink: %v, want %v", got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("after shrink: %v, want %v", got, want)
			}
		}

		// Eviction continues correctly after the resize.
		r.Add(10)
		got = r.Snapshot()
		want = []int{7, 8, 9, 10}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("after add post-shrink: %v, want %v", got, want)
			}
		}
	})

	t.Run("grow keeps everything", func(t *testing.T) {
		t.Parallel()
		r := NewRing[int](2)
		r.Add(1)
		r.Add(2)
		r.Add(3)
		r.SetCapacity(5)

		got := r.Snapshot()
		if len(got) != 2 || got[0] != 2 || got[1] != 3 {
			t.Fatalf("after grow: %v, want [2 3]", got)
		}
		for i := 4; i <= 7; i++ {
			r.Add(i)
		}
		if got := r.Snapshot(); len(got) != 5 || got[0] != 3 {
			t.Fatalf("after refill: %v", got)
		}
	})
}

func TestRing_Clear(t *testing.T) {
	t.Parallel()
	r := NewRing[int](3)
	for i := 0; i < 5; i++ {
		r.Add(i)
	}
	r.Clear()
	if r.Len() != 0 {
		t.Fatalf("Len after Clear = %d", r.Len())
	}
	r.Add(42)
	if got := r.Snapshot(); len(got) != 1 || got[0] != 42 {
		t.Fatalf("ring unusable after Clear: %v", got)
	}
}

func TestRing_PropertyRandomSizes(t *testing.T) {
	t.Parallel()
	// Exhaustive small-space sweep: every (capacity, adds) pair in range.
	for capacity := 1; capacity <= 8; capacity++ {
		for adds := 0; adds <= 20; adds++ {
			r := NewRing[string](capacity)
			for i := 0; i < adds; i++ {
				r.Add(fmt.Sprintf("v%d", i))
			}
			snap := r.Snapshot()
			want := adds
			if want > capacity {
				want = capacity
			}
			if len(snap) != want {
				t.Fatalf("cap=%d adds=%d: len=%d want %d", capacity, adds, len(snap), want)
			}
			for i, v := range snap {
				if expected := fmt.Sprintf("v%d", adds-want+i); v != expected {
					t.Fatalf("cap=%d adds=%d: snap[%d]=%s want %s", capacity, adds, i, v, expected)
				}
			}
		}
	}
}
