package query

import (
	"bytes"
	"encoding/json"

	"github.com/pavelpascari/covidapi/internal/dataset"
)

// Cell is one projected output key. Grouped output carries a nested Row.
type Cell struct {
	Key   string
	Value dataset.Value
	Group Row
}

// IsGroup reports whether the cell nests other cells.
func (c Cell) IsGroup() bool { return c.Group != nil }

// Row is a projected record whose keys keep structure declaration order.
type Row []Cell

// Get returns the cell with the given key.
func (r Row) Get(key string) (Cell, bool) {
	for _, c := range r {
		if c.Key == key {
			return c, true
		}
	}
	return Cell{}, false
}

// MarshalJSON writes the row as an object in declaration order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var val []byte
		if c.IsGroup() {
			val, err = c.Group.MarshalJSON()
		} else {
			val, err = c.Value.MarshalJSON()
		}
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
