package api

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pavelpascari/covidapi/internal/dataset"
	"github.com/pavelpascari/covidapi/internal/query"
)

// TimestampHandler reports the release timestamp of the current snapshot.
type TimestampHandler struct {
	accessor dataset.Accessor
}

// NewTimestampHandler creates a timestamp handler.
func NewTimestampHandler(accessor dataset.Accessor) *TimestampHandler {
	return &TimestampHandler{accessor: accessor}
}

func (h *TimestampHandler) Handle(_ context.Context, _ struct{}) (TimestampResponse, error) {
	snap, err := h.accessor.Current()
	if err != nil {
		return TimestampResponse{}, &query.Error{Kind: query.KindDatasetUnavailable, Message: "The dataset is unavailable.", Err: err}
	}
	return TimestampResponse{WebsiteTimestamp: formatTimestamp(snap.Timestamp)}, nil
}

// Pinger checks that the backing store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler answers the liveness check. The service is alive when a
// snapshot is loaded and the source answers a ping.
type HealthHandler struct {
	accessor dataset.Accessor
	source   Pinger
	logger   *zap.Logger
}

// NewHealthHandler creates the healthcheck handler. source may be nil.
func NewHealthHandler(accessor dataset.Accessor, source Pinger, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{accessor: accessor, source: source, logger: logger}
}

func (h *HealthHandler) Handle(ctx context.Context, _ struct{}) (HealthResponse, error) {
	if _, err := h.accessor.Current(); err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		return "", fmt.Errorf("health check: %w", err)
	}
	if h.source != nil {
		if err := h.source.Ping(ctx); err != nil {
			h.logger.Error("health check failed", zap.Error(err))
			return "", fmt.Errorf("health check: %w", err)
		}
	}
	return "ALIVE", nil
}
