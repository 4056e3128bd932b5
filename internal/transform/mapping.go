package transform

type mapRange struct {
	start   int
	oldSize int
	newSize int
}

// StepMap records the ranges a step replaced, in pre-step coordinates.
type StepMap struct {
	ranges []mapRange
}

// Map translates pos across the step. A position inside a replaced range
// collapses to the range start. assoc > 0 moves a position sitting exactly
// at an insertion point past the inserted content.
func (m StepMap) Map(pos, assoc int) int {
	diff := 0
	for _, r := range m.ranges {
		if r.start > pos {
			break
		}
		end := r.start + r.oldSize
		if pos <= end {
			var out int
			switch {
			case r.oldSize == 0 && assoc > 0:
				out = r.start + r.newSize
			case r.oldSize == 0, pos == r.start:
				out = r.start
			case pos == end:
				out = r.start + r.newSize
			default:
				out = r.start
			}
			return out + diff
		}
		diff += r.newSize - r.oldSize
	}
	return pos + diff
}

// Mapping chains step maps.
type Mapping struct {
	maps []StepMap
}

// Append adds a step map to the end of the chain.
func (m *Mapping) Append(sm StepMap) { m.maps = append(m.maps, sm) }

// Map translates pos through every step in order.
func (m *Mapping) Map(pos, assoc int) int {
	for _, sm := range m.maps {
		pos = sm.Map(pos, assoc)
	}
	return pos
}
