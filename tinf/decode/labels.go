package decode

import (
	"sort"
	"strconv"

	"github.com/ZanzyTHEbar/textinfer/tinf/common"
)

// LabelMap is the fixed id → tag table of a token classification model.
type LabelMap struct {
	names map[int]string
	size  int
}

// NewLabelMap indexes labels by position.
func NewLabelMap(labels []string) LabelMap {
	m := LabelMap{names: make(map[int]string, len(labels))}
	for i, l := range labels {
		m.names[i] = l
	}
	m.size = len(labels)
	return m
}

// FromID2Label builds a LabelMap from a HuggingFace config.json id2label table.
func FromID2Label(id2label map[string]string) (LabelMap, error) {
	m := LabelMap{names: make(map[int]string, len(id2label))}
	for k, v := range id2label {
		id, err := strconv.Atoi(k)
		if err != nil || id < 0 {
			return LabelMap{}, common.Errorf(common.ErrLabelMap, "invalid label id %q", k)
		}
		m.names[id] = v
		if id+1 > m.size {
			m.size = id + 1
		}
	}
	return m, nil
}

// Len returns one past the highest id with an entry.
func (m LabelMap) Len() int { return m.size }

// Lookup returns the tag for id. A missing id is a common.ErrLabelMap error.
func (m LabelMap) Lookup(id int) (string, error) {
	name, ok := m.names[id]
	if !ok {
		return "", common.Errorf(common.ErrLabelMap, "label id %d has no entry", id)
	}
	return name, nil
}

// Covers reports whether every id in [0, n) has an entry.
func (m LabelMap) Covers(n int) bool {
	for id := 0; id < n; id++ {
		if _, ok := m.names[id]; !ok {
			return false
		}
	}
	return true
}

// Labels returns the tags ordered by id.
func (m LabelMap) Labels() []string {
	ids := make([]int, 0, len(m.names))
	for id := range m.names {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = m.names[id]
	}
	return out
}
