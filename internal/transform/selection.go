package transform

import "folio/api/internal/model"

// Selection is an ordered pair of positions. It is empty when Anchor == Head.
type Selection struct {
	Anchor int `json:"anchor"`
	Head   int `json:"head"`
}

// Cursor returns an empty selection at pos.
func Cursor(pos int) Selection { return Selection{Anchor: pos, Head: pos} }

func (s Selection) Empty() bool { return s.Anchor == s.Head }
func (s Selection) From() int   { return min(s.Anchor, s.Head) }
func (s Selection) To() int     { return max(s.Anchor, s.Head) }

// Map translates both ends through a mapping.
func (s Selection) Map(m *Mapping) Selection {
	return Selection{Anchor: m.Map(s.Anchor, 1), Head: m.Map(s.Head, 1)}
}

// Clamp keeps both ends inside doc.
func (s Selection) Clamp(doc *model.Node) Selection {
	size := doc.ContentSize()
	clamp := func(p int) int { return min(max(p, 0), size) }
	return Selection{Anchor: clamp(s.Anchor), Head: clamp(s.Head)}
}

// Valid reports whether both ends lie inside doc.
func (s Selection) Valid(doc *model.Node) bool {
	return s.Clamp(doc) == s
}
