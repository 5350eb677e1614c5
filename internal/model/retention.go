package model

// StreamCutReference points at a stream-cut recorded for retention bookkeeping
type StreamCutReference struct {
	RecordingTime int64
	RecordingSize int64
}

// RetentionSet is the insertion-ordered list of stream-cut references
type RetentionSet struct {
	StreamCuts []StreamCutReference
}

// Latest returns the most recently added reference
func (r RetentionSet) Latest() (StreamCutReference, bool) {
	if len(r.StreamCuts) == 0 {
		return StreamCutReference{}, false
	}
	return r.StreamCuts[len(r.StreamCuts)-1], true
}

// Add returns a new set with ref appended at the end
func (r RetentionSet) Add(ref StreamCutReference) RetentionSet {
	cuts := make([]StreamCutReference, len(r.StreamCuts), len(r.StreamCuts)+1)
	copy(cuts, r.StreamCuts)
	return RetentionSet{StreamCuts: append(cuts, ref)}
}

// RemoveBefore returns a new set without references recorded before recordingTime
func (r RetentionSet) RemoveBefore(recordingTime int64) RetentionSet {
	cuts := make([]StreamCutReference, 0, len(r.StreamCuts))
	for _, c := range r.StreamCuts {
		if c.RecordingTime >= recordingTime {
			cuts = append(cuts, c)
		}
	}
	return RetentionSet{StreamCuts: cuts}
}
