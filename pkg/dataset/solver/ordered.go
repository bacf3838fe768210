package solver

import "github.com/MGDevelopment/dataset-engine/pkg/dataset/value"

// orderedMap accumulates key/value pairs in first-seen order, then
// converts to a value.Value Map in one pass. Building the final
// value.Value only after every entry is known avoids a pitfall of
// value.Value's Map semantics: Set must be called with a value that is
// already complete, since storing a half-built nested Map and later
// mutating the copy returned by Get does not observably update the
// keys recorded on the parent.
type orderedMap struct {
	keys []string
	vals map[string]value.Value
}

func newOrderedMap() *orderedMap {
	return &orderedMap{vals: map[string]value.Value{}}
}

func (m *orderedMap) set(k string, v value.Value) {
	if _, ok := m.vals[k]; !ok {
		m.keys = append(m.keys, k)
	}
	m.vals[k] = v
}

func (m *orderedMap) get(k string) (value.Value, bool) {
	v, ok := m.vals[k]
	return v, ok
}

func (m *orderedMap) toValue() value.Value {
	out := value.NewMap()
	for _, k := range m.keys {
		out.Set(k, m.vals[k])
	}
	return out
}
