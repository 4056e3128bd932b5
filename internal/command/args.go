package command

import "folio/api/internal/model"

// Args carries command arguments, typically decoded from JSON.
type Args map[string]any

func (a Args) String(key string) string {
	v, _ := a[key].(string)
	return v
}

// Int accepts int and JSON float64 values.
func (a Args) Int(key string) (int, bool) {
	switch v := a[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// Attrs returns a nested attribute object.
func (a Args) Attrs(key string) model.Attrs {
	switch v := a[key].(type) {
	case model.Attrs:
		return v
	case map[string]any:
		return model.Attrs(v)
	}
	return nil
}
