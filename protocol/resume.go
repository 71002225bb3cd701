package protocol

// resumeTracker records the byte offset each chunk started at, so that a
// receiver presenting receivedBytes from a prior attempt can be told exactly
// where the sender should restart without re-transmitting acknowledged data.
//
// Mirrors the part-tracking idiom of a multipart upload that keeps a map of
// completed part boundaries and resumes from the highest one not exceeding
// what the far side already has.
type resumeTracker struct {
	boundaries map[int]int64 // seq -> starting offset
}

func newResumeTracker() *resumeTracker {
	return &resumeTracker{boundaries: make(map[int]int64)}
}

// RecordChunkStart notes that chunk seq began at offset.
func (r *resumeTracker) RecordChunkStart(seq int, offset int64) {
	r.boundaries[seq] = offset
}

// ResumeOffsetFor returns the largest recorded chunk-start boundary that
// does not exceed receivedBytes, along with the sequence number it starts.
// ok is false when no recorded boundary qualifies (resume from zero).
func (r *resumeTracker) ResumeOffsetFor(receivedBytes, total int64) (offset int64, seq int, ok bool) {
	if receivedBytes <= 0 || receivedBytes > total {
		return 0, 0, false
	}

	bestSeq := -1
	var bestOffset int64 = -1
	for s, off := range r.boundaries {
		if off <= receivedBytes && off > bestOffset {
			bestOffset = off
			bestSeq = s
		}
	}
	if bestSeq < 0 {
		return 0, 0, false
	}
	return bestOffset, bestSeq, true
}
