package dataset

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultDebounce collapses bursts of file writes into one reload.
const DefaultDebounce = 500 * time.Millisecond

// RefreshMetrics are the prometheus series maintained by a Refresher.
type RefreshMetrics struct {
	refreshes *prometheus.CounterVec
	records   prometheus.Gauge
	released  prometheus.Gauge
}

// NewRefreshMetrics registers the refresher series with reg.
func NewRefreshMetrics(reg prometheus.Registerer) *RefreshMetrics {
	factory := promauto.With(reg)
	return &RefreshMetrics{
		refreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "covidapi_dataset_refresh_total",
				Help: "Dataset snapshot loads by trigger and result",
			},
			[]string{"trigger", "result"},
		),
		records: factory.NewGauge(prometheus.GaugeOpts{
			Name: "covidapi_dataset_records",
			Help: "Records in the published snapshot",
		}),
		released: factory.NewGauge(prometheus.GaugeOpts{
			Name: "covidapi_dataset_release_timestamp_seconds",
			Help: "Release timestamp of the published snapshot",
		}),
	}
}

// RefresherConfig selects the triggers that reload the dataset.
type RefresherConfig struct {
	// Schedule is a cron expression ("@every 5m", "*/10 * * * *"). Empty disables it.
	Schedule string
	// WatchPath is a file whose changes trigger a reload. Empty disables it.
	WatchPath string
	Debounce  time.Duration
}

// Refresher is the single writer of a Store.
type Refresher struct {
	source  Source
	store   *Store
	config  RefresherConfig
	logger  *zap.Logger
	metrics *RefreshMetrics
	mu      sync.Mutex
}

// NewRefresher wires a source to the store it publishes into.
func NewRefresher(source Source, store *Store, cfg RefresherConfig, logger *zap.Logger, metrics *RefreshMetrics) *Refresher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		source:  source,
		store:   store,
		config:  cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Refresh loads a snapshot and publishes it. On failure the current
// snapshot stays in place.
func (r *Refresher) Refresh(ctx context.Context) (*Snapshot, error) {
	return r.refresh(ctx, "manual")
}

func (r *Refresher) refresh(ctx context.Context, trigger string) (*Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, err := r.source.Load(ctx)
	if err != nil {
		r.observe(trigger, "error", nil)
		r.logger.Error("dataset refresh failed", zap.String("trigger", trigger), zap.Error(err))
		return nil, fmt.Errorf("refresh dataset: %w", err)
	}

	prev := r.store.Publish(snap)
	r.observe(trigger, "ok", snap)

	fields := []zap.Field{
		zap.String("trigger", trigger),
		zap.String("version", snap.Version),
		zap.Int("records", snap.Len()),
	}
	if prev != nil {
		fields = append(fields, zap.String("previous_version", prev.Version))
	}
	r.logger.Info("dataset snapshot published", fields...)

	return snap, nil
}

func (r *Refresher) observe(trigger, result string, snap *Snapshot) {
	if r.metrics == nil {
		return
	}
	r.metrics.refreshes.WithLabelValues(trigger, result).Inc()
	if snap != nil {
		r.metrics.records.Set(float64(snap.Len()))
		r.metrics.released.Set(float64(snap.Timestamp.Unix()))
	}
}

// Run starts the configured triggers and blocks until ctx is done. All
// goroutines it starts have exited when it returns.
func (r *Refresher) Run(ctx context.Context) error {
	var scheduler *cron.Cron
	if r.config.Schedule != "" {
		scheduler = cron.New()
		_, err := scheduler.AddFunc(r.config.Schedule, func() {
			_, _ = r.refresh(ctx, "schedule")
		})
		if err != nil {
			return fmt.Errorf("invalid refresh schedule %q: %w", r.config.Schedule, err)
		}
		scheduler.Start()
		r.logger.Info("dataset refresh scheduled", zap.String("schedule", r.config.Schedule))
	}

	var wg sync.WaitGroup
	var watcher *fsnotify.Watcher
	if r.config.WatchPath != "" {
		w, target, err := r.watch()
		if err != nil {
			if scheduler != nil {
				<-scheduler.Stop().Done()
			}
			return err
		}
		watcher = w
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.watchLoop(ctx, watcher, target)
		}()
	}

	<-ctx.Done()

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	if watcher != nil {
		_ = watcher.Close()
	}
	wg.Wait()

	return nil
}

func (r *Refresher) watch() (*fsnotify.Watcher, string, error) {
	target, err := filepath.Abs(r.config.WatchPath)
	if err != nil {
		return nil, "", fmt.Errorf("watch path %q: %w", r.config.WatchPath, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, "", fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory so atomic replace-by-rename is seen too.
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return nil, "", fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	r.logger.Info("watching dataset file", zap.String("path", target))
	return watcher, target, nil
}

func (r *Refresher) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, target string) {
	timer := time.NewTimer(r.config.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			name, _ := filepath.Abs(event.Name)
			// SQLite also writes name-wal and name-journal next to the file.
			if name != target && !strings.HasPrefix(name, target+"-") {
				continue
			}
			timer.Reset(r.config.Debounce)
		case <-timer.C:
			_, _ = r.refresh(ctx, "watch")
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("dataset watcher error", zap.Error(err))
		}
	}
}
