package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanPartitionsResource(t *testing.T) {
	tests := []struct {
		name      string
		total     int64
		conc      int
		minSeg    int64
		wantCount int
		wantSizes []int64
	}{
		{"even split", 1000, 4, 100, 4, []int64{250, 250, 250, 250}},
		{"remainder goes first", 1003, 4, 1, 4, []int64{251, 251, 251, 250}},
		{"limited by min segment", 1000, 8, 400, 2, []int64{500, 500}},
		{"smaller than min segment", 10, 4, 100, 1, []int64{10}},
		{"concurrency one", 777, 1, 1, 1, []int64{777}},
		{"zero concurrency clamps", 50, 0, 1, 1, []int64{50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segs := Plan(tt.total, tt.conc, tt.minSeg)
			require.Len(t, segs, tt.wantCount)
			var next int64
			for i, s := range segs {
				assert.Equal(t, i, s.ID)
				assert.Equal(t, next, s.Start, "segments must be contiguous")
				assert.Equal(t, tt.wantSizes[i], s.Size())
				assert.Equal(t, SegmentPending, s.State())
				next = s.End
			}
			assert.Equal(t, tt.total, next, "segments must cover the resource")
		})
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	a := Plan(123456789, 16, 1<<20)
	b := Plan(123456789, 16, 1<<20)
	require.Len(t, b, len(a))
	for i := range a {
		assert.Equal(t, a[i].Start, b[i].Start)
		assert.Equal(t, a[i].End, b[i].End)
	}
}

func TestPlanSizesDifferByAtMostOne(t *testing.T) {
	for _, total := range []int64{1, 7, 99, 1001, 65537} {
		segs := Plan(total, 7, 3)
		lo, hi := segs[0].Size(), segs[0].Size()
		for _, s := range segs {
			lo, hi = min(lo, s.Size()), max(hi, s.Size())
		}
		assert.LessOrEqual(t, hi-lo, int64(1), "total %d", total)
		assert.Len(t, segs, EffectiveConcurrency(total, 7, 3))
	}
}

func TestPlanEdgeSizes(t *testing.T) {
	empty := Plan(0, 4, 100)
	require.Len(t, empty, 1)
	assert.Equal(t, int64(0), empty[0].Size())
	assert.Equal(t, SegmentDone, empty[0].State())

	unknown := Plan(-1, 4, 100)
	require.Len(t, unknown, 1)
	assert.False(t, unknown[0].Bounded())
	assert.Equal(t, int64(-1), unknown[0].Size())
	assert.Equal(t, ByteRange{Start: 0, End: -1}, unknown[0].Remaining())
}

func TestEffectiveConcurrency(t *testing.T) {
	assert.Equal(t, 4, EffectiveConcurrency(1000, 4, 100))
	assert.Equal(t, 1, EffectiveConcurrency(99, 4, 100))
	assert.Equal(t, 3, EffectiveConcurrency(300, 8, 100))
	assert.Equal(t, 1, EffectiveConcurrency(10, -2, 0))
}

func TestByteRangeHeader(t *testing.T) {
	assert.Equal(t, "bytes=0-249", ByteRange{Start: 0, End: 250}.Header())
	assert.Equal(t, "bytes=500-", ByteRange{Start: 500, End: -1}.Header())
	assert.True(t, ByteRange{Start: 0, End: -1}.Whole())
	assert.False(t, ByteRange{Start: 1, End: -1}.Whole())
	assert.Equal(t, int64(-1), ByteRange{Start: 3, End: -1}.Len())
}
