package models

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Timeline.Milestones = append([]Milestone(nil), r.Timeline.Milestones...)
	out.Participants.SalesTeam = append([]string(nil), r.Participants.SalesTeam...)
	out.Participants.Writers = append([]string(nil), r.Participants.Writers...)
	out.Participants.SMEs = append([]string(nil), r.Participants.SMEs...)
	out.Metadata.Tags = append([]string(nil), r.Metadata.Tags...)
	out.Metadata.Extra = CloneMap(r.Metadata.Extra)
	out.Tasks = append([]TaskRef(nil), r.Tasks...)
	if r.History != nil {
		out.History = make([]Event, len(r.History))
		for i, ev := range r.History {
			out.History[i] = ev.Clone()
		}
	}
	return &out
}

// Clone returns a deep copy of w.
func (w *WorkItem) Clone() *WorkItem {
	if w == nil {
		return nil
	}
	out := *w
	out.Metadata = CloneMap(w.Metadata)
	out.Embedding = append([]float32(nil), w.Embedding...)
	return &out
}

// Clone returns a copy of e with its payload deep-copied.
func (e Event) Clone() Event {
	e.Payload = CloneMap(e.Payload)
	return e
}

// CloneMap deep-copies nested maps and slices of a JSON-like map.
func CloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return CloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []map[string]interface{}:
		out := make([]map[string]interface{}, len(t))
		for i, e := range t {
			out[i] = CloneMap(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
