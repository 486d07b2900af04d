// Package metrics exposes Prometheus collectors for backup runs.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"db-backup-utility/internal/backup"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// DefaultJob is the Pushgateway job name
const DefaultJob = "db_backup_utility"

// Metrics holds the backup collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal       *prometheus.CounterVec
	TablesTotal     *prometheus.CounterVec
	RowsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	ArchiveSize     *prometheus.GaugeVec
	LastSuccess     *prometheus.GaugeVec
	RetentionPruned *prometheus.CounterVec
	UploadsTotal    *prometheus.CounterVec
}

// New registers the collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbbackup_runs_total",
			Help: "The total number of backup runs",
		}, []string{"database", "status"}),

		TablesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbbackup_tables_total",
			Help: "The total number of tables processed",
		}, []string{"database", "status"}),

		RowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbbackup_rows_total",
			Help: "The total number of rows serialized",
		}, []string{"database"}),

		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dbbackup_run_duration_seconds",
			Help:    "Time taken by a backup run",
			Buckets: prometheus.DefBuckets,
		}, []string{"database"}),

		ArchiveSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dbbackup_archive_size_bytes",
			Help: "Size of the last archive in bytes",
		}, []string{"database"}),

		LastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dbbackup_last_success_timestamp_seconds",
			Help: "Timestamp of the last fully successful backup",
		}, []string{"database"}),

		RetentionPruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbbackup_retention_pruned_total",
			Help: "The total number of sessions removed by retention",
		}, []string{"database"}),

		UploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dbbackup_uploads_total",
			Help: "The total number of archive uploads",
		}, []string{"database", "status"}),
	}

	m.registry.MustRegister(
		m.RunsTotal,
		m.TablesTotal,
		m.RowsTotal,
		m.RunDuration,
		m.ArchiveSize,
		m.LastSuccess,
		m.RetentionPruned,
		m.UploadsTotal,
	)
	return m
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe records the outcome of one run
func (m *Metrics) Observe(s *backup.Summary) {
	db := s.Database
	status := s.Status()

	m.RunsTotal.WithLabelValues(db, status).Inc()
	m.TablesTotal.WithLabelValues(db, "success").Add(float64(len(s.Succeeded())))
	m.TablesTotal.WithLabelValues(db, "failed").Add(float64(len(s.Failed())))
	m.RowsTotal.WithLabelValues(db).Add(float64(s.TotalRows()))
	m.RunDuration.WithLabelValues(db).Observe(s.Duration().Seconds())
	m.RetentionPruned.WithLabelValues(db).Add(float64(len(s.Pruned)))
	m.UploadsTotal.WithLabelValues(db, "success").Add(float64(len(s.Uploads)))
	m.UploadsTotal.WithLabelValues(db, "failed").Add(float64(len(s.UploadErrors)))

	if s.Archive != nil {
		m.ArchiveSize.WithLabelValues(db).Set(float64(s.Archive.Size))
	}
	if status == backup.StatusSuccess {
		m.LastSuccess.WithLabelValues(db).Set(float64(s.FinishedAt.Unix()))
	}
}

// Push sends the registry to a Pushgateway, grouped by database
func (m *Metrics) Push(ctx context.Context, gatewayURL, job, database string) error {
	if job == "" {
		job = DefaultJob
	}
	pusher := push.New(gatewayURL, job).Gatherer(m.registry)
	if database != "" {
		pusher = pusher.Grouping("database", database)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}

// Handler serves /metrics from the private registry and a /health probe
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	return mux
}

// NewServer returns an HTTP server for Handler on addr
func (m *Metrics) NewServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      m.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}
