package render

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/pavelpascari/covidapi/internal/dataset"
	"github.com/pavelpascari/covidapi/internal/query"
)

// ErrNotFlat rejects CSV output for grouped structures or nested values.
var ErrNotFlat = &query.Error{
	Kind:    query.KindInvalidFormat,
	Message: "Nested structures and nested metrics cannot be rendered as CSV.",
}

// CSV writes a header of the structure keys and one line per row. Nulls
// are empty cells. Nothing is written when the data is not flat.
func CSV(w io.Writer, env *query.Envelope, s query.Structure) error {
	if !s.Flat() {
		return ErrNotFlat
	}
	for _, row := range env.Data {
		for _, c := range row {
			if c.IsGroup() || c.Value.Kind() == dataset.KindList {
				return ErrNotFlat
			}
		}
	}

	keys := s.Keys()
	cw := csv.NewWriter(w)
	if err := cw.Write(keys); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	line := make([]string, len(keys))
	for _, row := range env.Data {
		for i, key := range keys {
			line[i] = ""
			if c, ok := row.Get(key); ok {
				line[i] = c.Value.String()
			}
		}
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
