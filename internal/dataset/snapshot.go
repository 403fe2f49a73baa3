package dataset

import (
	"context"
	"sort"
	"strings"
	"time"
)

// ctxCheckInterval bounds how many records are scanned between cancellation checks.
const ctxCheckInterval = 1024

// Pushdown carries the indexed parts of a filter. Each non-empty list is a
// disjunction; the lists combine conjunctively.
type Pushdown struct {
	AreaTypes []string
	AreaCodes []string
	Dates     []time.Time
}

// Empty reports whether the pushdown constrains nothing.
func (p Pushdown) Empty() bool {
	return len(p.AreaTypes) == 0 && len(p.AreaCodes) == 0 && len(p.Dates) == 0
}

// Snapshot is an immutable, versioned view of the dataset. It is safe for
// any number of concurrent readers.
type Snapshot struct {
	Version   string
	Timestamp time.Time

	records []Record
	places  []Place
	byType  map[string][]int
	byCode  map[string][]int
	metrics []string
}

// NewSnapshot sorts records into natural order (area type, area code, date)
// and indexes them. The slices are owned by the snapshot afterwards.
func NewSnapshot(version string, timestamp time.Time, records []Record, places []Place) *Snapshot {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := &records[i], &records[j]
		if a.AreaType != b.AreaType {
			return a.AreaType < b.AreaType
		}
		if a.AreaCode != b.AreaCode {
			return a.AreaCode < b.AreaCode
		}
		return a.Date.Before(b.Date)
	})
	sort.SliceStable(places, func(i, j int) bool {
		return places[i].TrimmedPostcode < places[j].TrimmedPostcode
	})

	s := &Snapshot{
		Version:   version,
		Timestamp: timestamp.UTC(),
		records:   records,
		places:    places,
		byType:    make(map[string][]int),
		byCode:    make(map[string][]int),
	}

	seen := make(map[string]struct{})
	for i := range records {
		r := &records[i]
		s.byType[r.AreaType] = append(s.byType[r.AreaType], i)
		s.byCode[r.AreaCode] = append(s.byCode[r.AreaCode], i)
		for name := range r.Metrics {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				s.metrics = append(s.metrics, name)
			}
		}
	}
	sort.Strings(s.metrics)

	return s
}

// Len is the number of records in the snapshot.
func (s *Snapshot) Len() int { return len(s.records) }

// Places returns the postcode hierarchy rows, sorted by trimmed postcode.
// Callers must not modify the result.
func (s *Snapshot) Places() []Place { return s.places }

// Metrics lists the metric names present on at least one record.
func (s *Snapshot) Metrics() []string {
	out := make([]string, len(s.metrics))
	copy(out, s.metrics)
	return out
}

// HasMetric reports whether any record carries the metric.
func (s *Snapshot) HasMetric(name string) bool {
	i := sort.SearchStrings(s.metrics, name)
	return i < len(s.metrics) && s.metrics[i] == name
}

// Query returns the records matching the pushdown in natural order.
// Area codes are matched case-insensitively.
func (s *Snapshot) Query(ctx context.Context, pd Pushdown) ([]*Record, error) {
	var positions []int
	indexed := true
	switch {
	case len(pd.AreaCodes) > 0:
		codes := make([]string, len(pd.AreaCodes))
		for i, c := range pd.AreaCodes {
			codes[i] = strings.ToUpper(c)
		}
		positions = collect(s.byCode, codes)
	case len(pd.AreaTypes) > 0:
		positions = collect(s.byType, pd.AreaTypes)
	default:
		indexed = false
	}

	types := stringSet(pd.AreaTypes)
	days := daySet(pd.Dates)

	accept := func(r *Record) bool {
		if types != nil {
			if _, ok := types[r.AreaType]; !ok {
				return false
			}
		}
		if days != nil {
			if _, ok := days[dayOf(r.Date)]; !ok {
				return false
			}
		}
		return true
	}

	var out []*Record
	if !indexed {
		for i := range s.records {
			if i%ctxCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			if r := &s.records[i]; accept(r) {
				out = append(out, r)
			}
		}
		return out, nil
	}

	for n, i := range positions {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if r := &s.records[i]; accept(r) {
			out = append(out, r)
		}
	}

	return out, nil
}

// collect unions index postings and restores natural order.
func collect(index map[string][]int, keys []string) []int {
	var positions []int
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		positions = append(positions, index[k]...)
	}
	if len(seen) > 1 {
		sort.Ints(positions)
	}
	if positions == nil {
		positions = []int{}
	}
	return positions
}

func stringSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	m := make(map[string]struct{}, len(values))
	for _, v := range values {
		m[v] = struct{}{}
	}
	return m
}

func daySet(dates []time.Time) map[int64]struct{} {
	if len(dates) == 0 {
		return nil
	}
	m := make(map[int64]struct{}, len(dates))
	for _, d := range dates {
		m[dayOf(d)] = struct{}{}
	}
	return m
}

func dayOf(t time.Time) int64 {
	return t.UTC().Unix() / 86400
}
