package dataset

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

var (
	ErrUnknownAreaType = errors.New("unknown area type")
	ErrNoRelease       = errors.New("no released timestamp")
)

// Source loads a complete snapshot from backing storage.
type Source interface {
	Load(ctx context.Context) (*Snapshot, error)
	Ping(ctx context.Context) error
	Close() error
}

// Observation is one stored metric value for one area on one day.
type Observation struct {
	AreaType string
	AreaCode string
	AreaName string
	Date     time.Time
	Metric   string
	Payload  []byte
}

type seriesKey struct {
	areaType string
	areaCode string
	day      int64
}

// Builder pivots long-format observations into records.
type Builder struct {
	schema  *Schema
	index   map[seriesKey]int
	records []Record
	places  []Place
	skipped map[string]int
}

// NewBuilder returns a builder that types metrics with schema.
func NewBuilder(schema *Schema) *Builder {
	return &Builder{
		schema:  schema,
		index:   make(map[seriesKey]int),
		skipped: make(map[string]int),
	}
}

// Add folds one observation into its record. Metrics missing from the
// schema are counted and skipped.
func (b *Builder) Add(o Observation) error {
	areaType, ok := CanonicalAreaType(o.AreaType)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAreaType, o.AreaType)
	}
	code := strings.ToUpper(strings.TrimSpace(o.AreaCode))
	key := seriesKey{areaType: areaType, areaCode: code, day: dayOf(o.Date)}

	i, exists := b.index[key]
	if !exists {
		y, m, d := o.Date.UTC().Date()
		b.records = append(b.records, Record{
			AreaType: areaType,
			AreaCode: code,
			AreaName: o.AreaName,
			Date:     time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
			Metrics:  make(map[string]Value),
		})
		i = len(b.records) - 1
		b.index[key] = i
	}

	if o.Metric == "" {
		return nil
	}
	field, ok := b.schema.Lookup(o.Metric)
	if !ok || field.Identity {
		b.skipped[o.Metric]++
		return nil
	}

	v, err := field.Type.Decode(o.Payload)
	if err != nil {
		return fmt.Errorf("decode %s for %s/%s: %w", field.Name, areaType, code, err)
	}
	if !v.IsNull() {
		b.records[i].Metrics[field.Name] = v
	}

	return nil
}

// AddPlace records one postcode hierarchy row.
func (b *Builder) AddPlace(p Place) {
	p.Postcode = strings.ToUpper(strings.TrimSpace(p.Postcode))
	if p.TrimmedPostcode == "" {
		p.TrimmedPostcode = TrimPostcode(p.Postcode)
	}
	b.places = append(b.places, p)
}

// Skipped reports how many observations were dropped per unrecognized metric.
func (b *Builder) Skipped() map[string]int {
	out := make(map[string]int, len(b.skipped))
	for k, v := range b.skipped {
		out[k] = v
	}
	return out
}

// Build produces the snapshot. An empty version is replaced by a random one.
func (b *Builder) Build(version string, timestamp time.Time) *Snapshot {
	if version == "" {
		version = uuid.NewString()
	}
	snap := NewSnapshot(version, timestamp, b.records, b.places)
	b.records, b.places = nil, nil
	b.index = make(map[seriesKey]int)
	return snap
}

// TrimPostcode removes all whitespace and upper-cases a postcode.
func TrimPostcode(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		sb.WriteRune(r)
	}
	return strings.ToUpper(sb.String())
}
