package model

// Mark is an inline annotation attached to a text node.
type Mark struct {
	Type  string `json:"type"`
	Attrs Attrs  `json:"attrs,omitempty"`
}

// Eq compares type and attributes.
func (m Mark) Eq(o Mark) bool {
	return m.Type == o.Type && m.Attrs.Equal(o.Attrs)
}

// SameMarkSet compares two mark sets in order.
func SameMarkSet(a, b []Mark) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Eq(b[i]) {
			return false
		}
	}
	return true
}

// RemoveMark drops marks of the given type from the set.
func RemoveMark(set []Mark, markType string) []Mark {
	out := make([]Mark, 0, len(set))
	for _, m := range set {
		if m.Type != markType {
			out = append(out, m)
		}
	}
	return out
}

// AddMark adds m to the set, keeping schema rank order. A mark of the same
// type already in the set is replaced rather than duplicated.
func (s *Schema) AddMark(set []Mark, m Mark) []Mark {
	out := make([]Mark, 0, len(set)+1)
	placed := false
	rank := s.markRank(m.Type)
	for _, existing := range set {
		if existing.Type == m.Type {
			continue
		}
		if !placed && s.markRank(existing.Type) > rank {
			out = append(out, m)
			placed = true
		}
		out = append(out, existing)
	}
	if !placed {
		out = append(out, m)
	}
	return out
}

// SortMarks returns the marks ordered by schema rank, collapsing duplicate types
// (later entries win).
func (s *Schema) SortMarks(marks []Mark) []Mark {
	var out []Mark
	for _, m := range marks {
		out = s.AddMark(out, m)
	}
	return out
}

func (s *Schema) markRank(name string) int {
	if mt, ok := s.marks[name]; ok {
		return mt.rank
	}
	return len(s.markOrder)
}
