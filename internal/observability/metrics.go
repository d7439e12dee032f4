package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	types "github.com/yungbote/storybook-backend/internal/domain"
	domainjobs "github.com/yungbote/storybook-backend/internal/domain/jobs"
	"github.com/yungbote/storybook-backend/internal/platform/envutil"
	"github.com/yungbote/storybook-backend/internal/platform/logger"
)

type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge

	jobRuns     *CounterVec
	jobDuration *HistogramVec
	queueDepth  *GaugeVec

	storyAdmissions *CounterVec
	storyOutcomes   *CounterVec
	stageDuration   *HistogramVec
	chapterImages   *CounterVec

	providerRequests *CounterVec
	providerLatency  *HistogramVec

	pgStats   *GaugeVec
	redisUp   *Gauge
	redisPing *Gauge

	outboxRelayed *CounterVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

// Enabled reports METRICS_ENABLED.
func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

// Current returns the process-wide registry, nil when metrics are off. All
// Metrics methods accept a nil receiver.
func Current() *Metrics {
	return instance
}

func scrapeInterval() time.Duration {
	d := envutil.Duration("METRICS_SCRAPE_INTERVAL_SECONDS", 10*time.Second)
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = NewMetrics()
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

// NewMetrics builds an unregistered set, mostly for tests. Init is the
// process-wide entry point.
func NewMetrics() *Metrics {
	secs := []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}
	long := []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 3600}
	return &Metrics{
		apiRequests: NewCounterVec("sb_api_requests_total", "Total API requests by method/route/status.", []string{"method", "route", "status"}),
		apiLatency:  NewHistogramVec("sb_api_request_duration_seconds", "API request latency in seconds.", []string{"method", "route", "status"}, secs),
		apiInflight: NewGauge("sb_api_inflight_requests", "In-flight API requests."),

		jobRuns:     NewCounterVec("sb_job_runs_total", "Finished job runs by type/status.", []string{"job_type", "status"}),
		jobDuration: NewHistogramVec("sb_job_run_duration_seconds", "Job run wall time by type/status.", []string{"job_type", "status"}, long),
		queueDepth:  NewGaugeVec("sb_job_queue_depth", "Job runs by status.", []string{"status"}),

		storyAdmissions: NewCounterVec("sb_story_admissions_total", "Story admission outcomes.", []string{"outcome"}),
		storyOutcomes:   NewCounterVec("sb_story_generation_outcomes_total", "Terminal story generation outcomes.", []string{"outcome"}),
		stageDuration:   NewHistogramVec("sb_story_stage_duration_seconds", "Generation stage wall time by stage/outcome.", []string{"stage", "outcome"}, long),
		chapterImages:   NewCounterVec("sb_story_chapter_images_total", "Chapter image results.", []string{"outcome"}),

		providerRequests: NewCounterVec("sb_provider_requests_total", "Generation provider calls by provider/operation/outcome.", []string{"provider", "operation", "outcome"}),
		providerLatency:  NewHistogramVec("sb_provider_request_duration_seconds", "Generation provider latency.", []string{"provider", "operation"}, long),

		pgStats:   NewGaugeVec("sb_postgres_pool", "database/sql pool stats.", []string{"stat"}),
		redisUp:   NewGauge("sb_redis_up", "1 when the last redis ping succeeded."),
		redisPing: NewGauge("sb_redis_ping_seconds", "Last redis ping latency."),

		outboxRelayed: NewCounterVec("sb_outbox_events_total", "Outbox events by outcome.", []string{"outcome"}),
	}
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	writers := []interface{ WritePrometheus(io.Writer) error }{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.jobRuns, m.jobDuration, m.queueDepth,
		m.storyAdmissions, m.storyOutcomes, m.stageDuration, m.chapterImages,
		m.providerRequests, m.providerLatency,
		m.pgStats, m.redisUp, m.redisPing,
		m.outboxRelayed,
	}
	for _, wr := range writers {
		if err := wr.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) ApiInflightInc() {
	if m != nil {
		m.apiInflight.Inc()
	}
}

func (m *Metrics) ApiInflightDec() {
	if m != nil {
		m.apiInflight.Dec()
	}
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route, status)
}

func (m *Metrics) ObserveJob(jobType, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.Inc(jobType, status)
	m.jobDuration.Observe(dur.Seconds(), jobType, status)
}

// IncAdmission counts created, active (dedup hit) and rejected admissions.
func (m *Metrics) IncAdmission(outcome string) {
	if m != nil {
		m.storyAdmissions.Inc(outcome)
	}
}

func (m *Metrics) IncStoryOutcome(outcome string) {
	if m != nil {
		m.storyOutcomes.Inc(outcome)
	}
}

func (m *Metrics) ObserveStoryStage(stage string, err error, dur time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.Observe(dur.Seconds(), stage, outcomeOf(err))
}

func (m *Metrics) ObserveChapterImages(succeeded, failed int) {
	if m == nil {
		return
	}
	m.chapterImages.Add(float64(succeeded), "succeeded")
	m.chapterImages.Add(float64(failed), "failed")
}

func (m *Metrics) ObserveProvider(provider, operation string, err error, dur time.Duration) {
	if m == nil {
		return
	}
	m.providerRequests.Inc(provider, operation, outcomeOf(err))
	m.providerLatency.Observe(dur.Seconds(), provider, operation)
}

func (m *Metrics) ObserveOutbox(published, failed int) {
	if m == nil {
		return
	}
	m.outboxRelayed.Add(float64(published), "published")
	m.outboxRelayed.Add(float64(failed), "failed")
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	m.every(ctx, func() {
		sqlDB, err := db.DB()
		if err != nil {
			if log != nil {
				log.Warn("metrics: postgres stats unavailable", "error", err)
			}
			return
		}
		stats := sqlDB.Stats()
		m.pgStats.Set(float64(stats.OpenConnections), "open_connections")
		m.pgStats.Set(float64(stats.InUse), "in_use")
		m.pgStats.Set(float64(stats.Idle), "idle")
		m.pgStats.Set(float64(stats.WaitCount), "wait_count")
		m.pgStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
		m.pgStats.Set(float64(stats.MaxOpenConnections), "max_open_connections")
	})
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	go func() {
		<-ctx.Done()
		_ = rdb.Close()
	}()
	m.every(ctx, func() {
		start := time.Now()
		if err := rdb.Ping(ctx).Err(); err != nil {
			m.redisUp.Set(0)
			if log != nil && ctx.Err() == nil {
				log.Warn("metrics: redis ping failed", "error", err)
			}
			return
		}
		m.redisUp.Set(1)
		m.redisPing.Set(time.Since(start).Seconds())
	})
}

func (m *Metrics) StartJobQueueCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	m.every(ctx, func() {
		if err := m.CollectJobQueue(ctx, db); err != nil && log != nil {
			log.Warn("metrics: job queue depth query failed", "error", err)
		}
	})
}

// CollectJobQueue refreshes sb_job_queue_depth once.
func (m *Metrics) CollectJobQueue(ctx context.Context, db *gorm.DB) error {
	if m == nil || db == nil {
		return nil
	}
	var rows []struct {
		Status string
		Count  int64
	}
	if err := db.WithContext(ctx).
		Model(&types.JobRun{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return err
	}
	for _, s := range []string{domainjobs.StatusQueued, domainjobs.StatusRunning, domainjobs.StatusSucceeded, domainjobs.StatusFailed, domainjobs.StatusCanceled} {
		m.queueDepth.Set(0, s)
	}
	for _, row := range rows {
		m.queueDepth.Set(float64(row.Count), strings.TrimSpace(row.Status))
	}
	return nil
}

func (m *Metrics) every(ctx context.Context, fn func()) {
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}
