package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cordontrips/cordontrips/internal/pipeline"
	"github.com/cordontrips/cordontrips/internal/runs"
)

// ErrDiscard marks a job that must not be redelivered.
var ErrDiscard = errors.New("job discarded")

// Executor runs one extraction.
type Executor interface {
	Execute(ctx context.Context, req pipeline.Request) (*pipeline.Summary, error)
}

// ExtractJob executes extraction runs and records their outcome.
type ExtractJob struct {
	config   JobConfig
	runs     *runs.Service
	executor Executor
	logger   zerolog.Logger

	metrics *JobMetrics
}

// JobMetrics tracks extraction job statistics.
type JobMetrics struct {
	mu sync.RWMutex

	// Counters
	TotalJobs      int64
	SucceededJobs  int64
	FailedJobs     int64
	DiscardedJobs  int64
	RetriedJobs    int64
	TripsProcessed int64
	TripsEmitted   int64

	// Timings
	LastJobAt       time.Time
	LastJobDuration time.Duration
	TotalDuration   time.Duration
}

// ExtractJobConfig holds configuration for creating an ExtractJob.
type ExtractJobConfig struct {
	Config   JobConfig
	Runs     *runs.Service
	Executor Executor
	Logger   zerolog.Logger
}

// NewExtractJob creates a new extraction job processor.
func NewExtractJob(cfg ExtractJobConfig) *ExtractJob {
	config := cfg.Config
	if config.Timeout == 0 {
		config.Timeout = DefaultJobConfig().Timeout
	}

	return &ExtractJob{
		config:   config,
		runs:     cfg.Runs,
		executor: cfg.Executor,
		logger:   cfg.Logger,
		metrics:  &JobMetrics{},
	}
}

// JobResult contains the result of one extraction job.
type JobResult struct {
	RunID     string
	Status    runs.Status
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Summary   *pipeline.Summary
}

// Run executes the run with the given id. Extraction failures are recorded on
// the run and reported as a failed result, not an error. A returned error is
// either ErrDiscard (the message can be dropped) or transient.
func (j *ExtractJob) Run(ctx context.Context, runID string) (*JobResult, error) {
	result := &JobResult{RunID: runID, StartTime: time.Now()}
	logger := j.logger.With().Str("run_id", runID).Logger()

	run, err := j.runs.MarkRunning(ctx, runID)
	switch {
	case errors.Is(err, runs.ErrRunNotFound):
		j.discarded()
		return nil, fmt.Errorf("%w: %v", ErrDiscard, err)
	case errors.Is(err, runs.ErrInvalidTransition):
		logger.Info().Msg("run already finished, dropping redelivered job")
		j.discarded()
		return nil, fmt.Errorf("%w: %v", ErrDiscard, err)
	case err != nil:
		j.retried()
		return nil, fmt.Errorf("mark run running: %w", err)
	}

	req := j.config.Defaults.PipelineRequest(run.Request)
	logger.Info().
		Str("plans", req.Plans).
		Str("network", req.Network).
		Str("region", req.Region).
		Str("mode", req.Mode).
		Msg("starting extraction job")

	jobCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	summary, execErr := j.executor.Execute(jobCtx, req)
	if execErr != nil && ctx.Err() != nil {
		// Shutting down; leave the run running so redelivery resumes it.
		j.retried()
		return nil, fmt.Errorf("extraction interrupted: %w", ctx.Err())
	}

	if execErr != nil {
		if _, err := j.runs.Fail(ctx, runID, execErr); err != nil {
			j.retried()
			return nil, fmt.Errorf("record run failure: %w", err)
		}
		result.Status = runs.StatusFailed
		logger.Error().Err(execErr).Msg("extraction job failed")
	} else {
		_, err := j.runs.Complete(ctx, runID, runs.Outcome{
			Processed:     summary.Processed,
			Emitted:       summary.Emitted,
			Skipped:       summary.Skipped,
			BoundaryLinks: summary.BoundaryLinks,
		})
		if err != nil {
			j.retried()
			return nil, fmt.Errorf("record run outcome: %w", err)
		}
		result.Status = runs.StatusSucceeded
		result.Summary = summary
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	j.updateMetrics(result)

	logger.Info().
		Str("status", string(result.Status)).
		Dur("duration", result.Duration).
		Msg("extraction job completed")

	return result, nil
}

// HealthCheck verifies the run store is reachable.
func (j *ExtractJob) HealthCheck(ctx context.Context) error {
	if _, err := j.runs.List(ctx, runs.ListOptions{Limit: 1}); err != nil {
		return fmt.Errorf("run store unavailable: %w", err)
	}
	return nil
}

func (j *ExtractJob) updateMetrics(result *JobResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalJobs++
	if result.Status == runs.StatusSucceeded {
		j.metrics.SucceededJobs++
	} else {
		j.metrics.FailedJobs++
	}
	if result.Summary != nil {
		j.metrics.TripsProcessed += int64(result.Summary.Processed)
		j.metrics.TripsEmitted += int64(result.Summary.Emitted)
	}
	j.metrics.LastJobAt = result.EndTime
	j.metrics.LastJobDuration = result.Duration
	j.metrics.TotalDuration += result.Duration
}

func (j *ExtractJob) discarded() {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()
	j.metrics.TotalJobs++
	j.metrics.DiscardedJobs++
}

func (j *ExtractJob) retried() {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()
	j.metrics.TotalJobs++
	j.metrics.RetriedJobs++
}

// GetMetrics returns a copy of the current metrics.
func (j *ExtractJob) GetMetrics() JobMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return JobMetrics{
		TotalJobs:       j.metrics.TotalJobs,
		SucceededJobs:   j.metrics.SucceededJobs,
		FailedJobs:      j.metrics.FailedJobs,
		DiscardedJobs:   j.metrics.DiscardedJobs,
		RetriedJobs:     j.metrics.RetriedJobs,
		TripsProcessed:  j.metrics.TripsProcessed,
		TripsEmitted:    j.metrics.TripsEmitted,
		LastJobAt:       j.metrics.LastJobAt,
		LastJobDuration: j.metrics.LastJobDuration,
		TotalDuration:   j.metrics.TotalDuration,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *ExtractJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_jobs":        m.TotalJobs,
		"succeeded_jobs":    m.SucceededJobs,
		"failed_jobs":       m.FailedJobs,
		"discarded_jobs":    m.DiscardedJobs,
		"retried_jobs":      m.RetriedJobs,
		"trips_processed":   m.TripsProcessed,
		"trips_emitted":     m.TripsEmitted,
		"last_job_at":       m.LastJobAt,
		"last_job_duration": m.LastJobDuration.String(),
		"total_duration":    m.TotalDuration.String(),
	}
}
