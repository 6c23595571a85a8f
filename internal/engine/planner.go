package engine

// Plan partitions [0, total) into contiguous segments. The result depends
// only on (total, concurrency, minSegment) so a lost checkpoint can be
// rebuilt from a re-probe of an unchanged resource.
//
// A total of 0 yields one empty segment that is already done; a negative
// total (length unknown) yields one unbounded segment.
func Plan(total int64, concurrency int, minSegment int64) []*Segment {
	if total < 0 {
		return []*Segment{NewSegment(0, 0, -1)}
	}
	if total == 0 {
		seg := NewSegment(0, 0, 0)
		seg.SetState(SegmentDone)
		return []*Segment{seg}
	}
	n := EffectiveConcurrency(total, concurrency, minSegment)
	base := total / int64(n)
	rem := total % int64(n)
	segments := make([]*Segment, 0, n)
	var start int64
	for i := range n {
		size := base
		if int64(i) < rem {
			size++
		}
		segments = append(segments, NewSegment(i, start, start+size))
		start += size
	}
	return segments
}

// EffectiveConcurrency is min(C, max(1, T/m)).
func EffectiveConcurrency(total int64, concurrency int, minSegment int64) int {
	if concurrency < 1 {
		concurrency = 1
	}
	if minSegment < 1 {
		minSegment = 1
	}
	bySize := max(1, total/minSegment)
	return int(min(int64(concurrency), bySize))
}
