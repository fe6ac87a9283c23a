package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fablehouse/fable-api/internal/domain"
	"github.com/fablehouse/fable-api/internal/store"
)

// MonitorConfig holds the thresholds the job monitor sweeps with.
type MonitorConfig struct {
	// Interval is the wait between sweep cycles.
	Interval time.Duration

	// StuckRunningAge is how long a running job's heartbeat may go stale
	// before the monitor intervenes.
	StuckRunningAge time.Duration

	// StuckQueuedAge is how long a queued job may sit unpicked before the
	// monitor intervenes.
	StuckQueuedAge time.Duration

	// SLA is the wall-clock budget from creation to completion. Jobs alive
	// past it are failed outright.
	SLA time.Duration

	// MaxRetries bounds how many times a stuck job is requeued before it is
	// failed instead.
	MaxRetries int
}

// CycleStats summarizes one monitor sweep.
type CycleStats struct {
	RequeuedRunning int
	RequeuedQueued  int
	FailedStuck     int
	FailedSLA       int
}

// Metrics is a point-in-time snapshot of pipeline health, served on the
// health endpoint.
type Metrics struct {
	Queued         int `json:"queued"`
	Running        int `json:"running"`
	StaleRunning   int `json:"stale_running"`
	DoneLastHour   int `json:"done_last_hour"`
	FailedLastHour int `json:"failed_last_hour"`

	// SuccessRate is the percentage of jobs finished in the last hour that
	// succeeded. An idle pipeline reports 100.
	SuccessRate float64 `json:"success_rate"`
}

// Monitor is the background reaper for the job table. Each sweep requeues
// stuck jobs that still have retry budget, fails the ones that don't, and
// fails anything that outlived the SLA. It only ever mutates the database;
// requeued jobs are picked up again by the task runner's poll loop.
type Monitor struct {
	jobs   store.JobStore
	cfg    MonitorConfig
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewMonitor creates a Monitor with the given thresholds.
func NewMonitor(jobs store.JobStore, cfg MonitorConfig, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		jobs:   jobs,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "job_monitor")),
	}
}

// Start launches the sweep loop. Calling Start on a running monitor is a
// no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	m.logger.Info("job monitor starting",
		slog.Duration("interval", m.cfg.Interval),
		slog.Duration("stuck_running_age", m.cfg.StuckRunningAge),
		slog.Duration("stuck_queued_age", m.cfg.StuckQueuedAge),
		slog.Duration("sla", m.cfg.SLA))

	go m.loop(ctx)
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel, done := m.cancel, m.done
	m.running = false
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Info("job monitor stopped")
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := m.RunCycle(ctx)
			if stats.RequeuedRunning+stats.RequeuedQueued+stats.FailedStuck+stats.FailedSLA > 0 {
				m.logger.Info("monitor sweep intervened",
					slog.Int("requeued_running", stats.RequeuedRunning),
					slog.Int("requeued_queued", stats.RequeuedQueued),
					slog.Int("failed_stuck", stats.FailedStuck),
					slog.Int("failed_sla", stats.FailedSLA))
			}
		}
	}
}

// RunCycle performs a single sweep and returns what it did. Exported so the
// sweep logic can be driven directly without the timer loop.
func (m *Monitor) RunCycle(ctx context.Context) CycleStats {
	var stats CycleStats
	now := time.Now().UTC()

	// A job the stuck passes intervene on keeps its granted retry for the
	// rest of this sweep; the SLA pass only fails jobs the stuck checks did
	// not already handle.
	handled := make(map[uuid.UUID]struct{})

	// Running jobs whose heartbeat went stale. Requeue while retry budget
	// remains, fail after that.
	stale, err := m.jobs.FindStale(ctx, domain.JobStatusRunning, now.Add(-m.cfg.StuckRunningAge))
	if err != nil {
		m.logger.Error("failed to scan for stuck running jobs", slog.String("error", err.Error()))
	} else {
		for _, job := range stale {
			handled[job.ID] = struct{}{}
			if m.intervene(ctx, job, domain.ErrorCodeStuckRunning,
				fmt.Sprintf("no heartbeat for over %s while running", m.cfg.StuckRunningAge)) {
				stats.RequeuedRunning++
			} else {
				stats.FailedStuck++
			}
		}
	}

	// Queued jobs nothing ever picked up.
	parked, err := m.jobs.FindStale(ctx, domain.JobStatusQueued, now.Add(-m.cfg.StuckQueuedAge))
	if err != nil {
		m.logger.Error("failed to scan for stuck queued jobs", slog.String("error", err.Error()))
	} else {
		for _, job := range parked {
			handled[job.ID] = struct{}{}
			if m.intervene(ctx, job, domain.ErrorCodeStuckQueued,
				fmt.Sprintf("queued for over %s without being picked up", m.cfg.StuckQueuedAge)) {
				stats.RequeuedQueued++
			} else {
				stats.FailedStuck++
			}
		}
	}

	// SLA breaches: anything still alive past its wall-clock budget is
	// failed regardless of retry budget.
	breached, err := m.jobs.FindCreatedBefore(ctx, now.Add(-m.cfg.SLA),
		[]domain.JobStatus{domain.JobStatusQueued, domain.JobStatusRunning})
	if err != nil {
		m.logger.Error("failed to scan for SLA breaches", slog.String("error", err.Error()))
	} else {
		for _, job := range breached {
			if _, ok := handled[job.ID]; ok {
				continue
			}
			if err := m.jobs.MarkFailed(ctx, job.ID, domain.ErrorCodeSLABreach,
				fmt.Sprintf("job exceeded the %s completion budget", m.cfg.SLA)); err != nil {
				m.logger.Error("failed to fail SLA-breached job",
					slog.String("job_id", job.ID.String()),
					slog.String("error", err.Error()))
				continue
			}
			m.logger.Warn("job failed for SLA breach",
				slog.String("job_id", job.ID.String()),
				slog.Time("created_at", job.CreatedAt))
			stats.FailedSLA++
		}
	}

	return stats
}

// intervene requeues the job if it has retry budget left, otherwise fails
// it with the given code. Returns true when the job was requeued.
func (m *Monitor) intervene(ctx context.Context, job *domain.Job, code domain.ErrorCode, reason string) bool {
	log := m.logger.With(
		slog.String("job_id", job.ID.String()),
		slog.Int("retry_count", job.RetryCount))

	if job.RetryCount < m.cfg.MaxRetries {
		if err := m.jobs.Requeue(ctx, job.ID, StepRetrying); err != nil {
			log.Error("failed to requeue stuck job", slog.String("error", err.Error()))
			return false
		}
		log.Warn("stuck job requeued", slog.String("reason", reason))
		return true
	}

	if err := m.jobs.MarkFailed(ctx, job.ID, code,
		fmt.Sprintf("%s after %d retries", reason, job.RetryCount)); err != nil {
		log.Error("failed to fail stuck job", slog.String("error", err.Error()))
		return false
	}
	log.Warn("stuck job failed, retry budget exhausted",
		slog.String("code", string(code)),
		slog.String("reason", reason))
	return false
}

// Snapshot gathers the current health metrics. Errors on individual counts
// are logged and surface as zeros rather than failing the whole snapshot.
func (m *Monitor) Snapshot(ctx context.Context) *Metrics {
	now := time.Now().UTC()
	metrics := &Metrics{}

	count := func(name string, fn func() (int, error)) int {
		n, err := fn()
		if err != nil {
			m.logger.Error("failed to gather metric",
				slog.String("metric", name),
				slog.String("error", err.Error()))
			return 0
		}
		return n
	}

	metrics.Queued = count("queued", func() (int, error) {
		return m.jobs.CountByStatus(ctx, domain.JobStatusQueued)
	})
	metrics.Running = count("running", func() (int, error) {
		return m.jobs.CountByStatus(ctx, domain.JobStatusRunning)
	})
	metrics.StaleRunning = count("stale_running", func() (int, error) {
		return m.jobs.CountStale(ctx, domain.JobStatusRunning, now.Add(-m.cfg.StuckRunningAge))
	})
	metrics.DoneLastHour = count("done_last_hour", func() (int, error) {
		return m.jobs.CountFinishedSince(ctx, domain.JobStatusDone, now.Add(-time.Hour))
	})
	metrics.FailedLastHour = count("failed_last_hour", func() (int, error) {
		return m.jobs.CountFinishedSince(ctx, domain.JobStatusFailed, now.Add(-time.Hour))
	})

	metrics.SuccessRate = 100
	if total := metrics.DoneLastHour + metrics.FailedLastHour; total > 0 {
		metrics.SuccessRate = float64(metrics.DoneLastHour) * 100 / float64(total)
	}

	return metrics
}
