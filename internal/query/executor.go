package query

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pavelpascari/covidapi/internal/dataset"
)

// ctxCheckInterval bounds the records processed between deadline checks.
const ctxCheckInterval = 1024

// LatestBy collapses the matched time series to a single point in time.
// Exactly one of Boundary and Metric is set.
type LatestBy struct {
	// Boundary keeps, per area, the latest record dated on or before it.
	Boundary time.Time
	// Metric keeps every matched record dated on the latest day on which
	// any matched record carries the metric.
	Metric string
}

func (l *LatestBy) String() string {
	if l == nil {
		return ""
	}
	if l.Metric != "" {
		return l.Metric
	}
	return l.Boundary.Format(dataset.DateLayout)
}

// ParseLatestBy reads a YYYY-MM-DD boundary or a metric name. An empty
// string means no reduction.
func ParseLatestBy(raw string, schema *dataset.Schema) (*LatestBy, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	if d, err := dataset.ParseDate(raw); err == nil {
		return &LatestBy{Boundary: d}, nil
	}

	field, ok := schema.Lookup(raw)
	if !ok || field.Identity {
		e := newError(KindMalformedQuery,
			"Invalid latestBy '%s': expected a YYYY-MM-DD date or a metric name.", raw)
		if !ok {
			e.Suggestion = closestMatch(raw, schema.Names())
		}
		return nil, e
	}
	return &LatestBy{Metric: field.Name}, nil
}

// Request is a parsed data query.
type Request struct {
	Filters   Expression
	Structure Structure
	LatestBy  *LatestBy
}

// Result is the ordered, projected result set of a query and the snapshot
// it was evaluated against.
type Result struct {
	Rows     []Row
	Snapshot *dataset.Snapshot
}

// Executor evaluates queries against the current dataset snapshot.
type Executor struct {
	accessor dataset.Accessor
	cfg      Config
	logger   *zap.Logger
}

// NewExecutor creates an executor reading snapshots from accessor.
func NewExecutor(accessor dataset.Accessor, cfg Config, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{accessor: accessor, cfg: cfg.withDefaults(), logger: logger}
}

// Config returns the limits the executor was built with.
func (e *Executor) Config() Config { return e.cfg }

// Execute runs the query against a single snapshot. An empty result is
// not an error.
func (e *Executor) Execute(ctx context.Context, req Request) (Result, error) {
	snap, err := e.accessor.Current()
	if err != nil {
		return Result{}, &Error{Kind: KindDatasetUnavailable, Message: "The dataset is unavailable.", Err: err}
	}

	pd, rest := pushdown(req.Filters)

	candidates, err := snap.Query(ctx, pd)
	if err != nil {
		return Result{}, contextError(err)
	}

	matched := make([]*dataset.Record, 0, len(candidates))
	for i, r := range candidates {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, contextError(err)
			}
		}
		if rest.Matches(r) {
			matched = append(matched, r)
		}
	}

	if req.LatestBy != nil {
		matched = reduceLatest(matched, req.LatestBy)
	}

	structure := req.Structure
	if structure.Fields == nil {
		structure = DefaultStructure()
	}

	rows := make([]Row, len(matched))
	for i, r := range matched {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return Result{}, contextError(err)
			}
		}
		rows[i] = structure.Project(r)
	}

	e.logger.Debug("query executed",
		zap.String("filters", req.Filters.String()),
		zap.String("latest_by", req.LatestBy.String()),
		zap.String("version", snap.Version),
		zap.Int("candidates", len(candidates)),
		zap.Int("rows", len(rows)),
	)

	return Result{Rows: rows, Snapshot: snap}, nil
}

// pushdown moves the first areaType, areaCode and date terms into an index
// query and returns the terms left to evaluate per record.
func pushdown(expr Expression) (dataset.Pushdown, Expression) {
	var pd dataset.Pushdown
	var rest Expression
	var haveType, haveCode, haveDate bool

	for _, t := range expr.Terms {
		switch {
		case t.Field.Name == dataset.FieldAreaType && !haveType:
			haveType = true
			pd.AreaTypes = t.Raw
		case t.Field.Name == dataset.FieldAreaCode && !haveCode:
			haveCode = true
			pd.AreaCodes = t.Raw
		case t.Field.Name == dataset.FieldDate && !haveDate:
			haveDate = true
			for _, v := range t.Values {
				if d, ok := v.Date(); ok {
					pd.Dates = append(pd.Dates, d)
				}
			}
		default:
			rest.Terms = append(rest.Terms, t)
		}
	}

	return pd, rest
}

// reduceLatest applies by to records, which arrive in natural order.
func reduceLatest(records []*dataset.Record, by *LatestBy) []*dataset.Record {
	if by.Metric != "" {
		return latestForMetric(records, by.Metric)
	}
	return latestPerArea(records, by.Boundary)
}

// latestPerArea keeps one record per area series. Each series is a
// contiguous ascending run.
func latestPerArea(records []*dataset.Record, boundary time.Time) []*dataset.Record {
	out := make([]*dataset.Record, 0)

	var best *dataset.Record
	for i, r := range records {
		if i > 0 && !r.SameArea(records[i-1]) {
			if best != nil {
				out = append(out, best)
			}
			best = nil
		}
		if !r.Date.After(boundary) {
			best = r
		}
	}
	if best != nil {
		out = append(out, best)
	}

	return out
}

// latestForMetric finds the most recent date on which metric is not null
// across all records and keeps the records on that date, in order.
func latestForMetric(records []*dataset.Record, metric string) []*dataset.Record {
	var latest time.Time
	for _, r := range records {
		if r.Date.After(latest) && !r.Field(metric).IsNull() {
			latest = r.Date
		}
	}

	out := make([]*dataset.Record, 0)
	if latest.IsZero() {
		return out
	}
	for _, r := range records {
		if r.Date.Equal(latest) {
			out = append(out, r)
		}
	}
	return out
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "The request timed out.", Err: err}
	}
	return err
}
