// Package worker processes extraction jobs delivered over Pub/Sub.
package worker

import (
	"time"

	"github.com/cordontrips/cordontrips/internal/config"
	"github.com/cordontrips/cordontrips/internal/pipeline"
	"github.com/cordontrips/cordontrips/internal/runs"
)

// Job types carried in JobMessage.JobType.
const (
	JobTypeExtract     = "extract"
	JobTypeHealthCheck = "health_check"
)

// JobMessage is the Pub/Sub payload for a worker job.
type JobMessage struct {
	JobType string `json:"job_type"`
	RunID   string `json:"run_id,omitempty"`
}

// JobDefaults fill in the knobs a run request leaves unset.
type JobDefaults struct {
	CRS              string
	Mode             string
	Workers          int
	Landmarks        int
	DepartureDefault float64
	ProgressEvery    int
}

// JobConfig holds configuration for the extraction job.
type JobConfig struct {
	Defaults JobDefaults

	// Timeout bounds one extraction including downloads.
	// Default: 2 hours
	Timeout time.Duration
}

// DefaultJobConfig returns the default job configuration.
func DefaultJobConfig() JobConfig {
	return JobConfig{
		Defaults: JobDefaults{
			CRS:           "EPSG:5677",
			Mode:          "car",
			Landmarks:     8,
			ProgressEvery: 100,
		},
		Timeout: 2 * time.Hour,
	}
}

// JobConfigFrom builds the job configuration from the application config.
func JobConfigFrom(cfg *config.Config) JobConfig {
	jc := DefaultJobConfig()
	jc.Defaults = JobDefaults{
		CRS:              cfg.CRS,
		Mode:             cfg.Mode,
		Workers:          cfg.Workers,
		Landmarks:        cfg.Landmarks,
		DepartureDefault: cfg.DepartureDefault,
		ProgressEvery:    cfg.ProgressEvery,
	}
	return jc
}

// PipelineRequest merges a stored run request with the defaults.
func (d JobDefaults) PipelineRequest(req runs.Request) pipeline.Request {
	out := pipeline.Request{
		Plans:            req.Plans,
		Network:          req.Network,
		Region:           req.Region,
		Output:           req.Output,
		CRS:              req.CRS,
		Mode:             req.Mode,
		Workers:          req.Workers,
		Landmarks:        d.Landmarks,
		DepartureDefault: d.DepartureDefault,
		ProgressEvery:    d.ProgressEvery,
	}
	if out.CRS == "" {
		out.CRS = d.CRS
	}
	if out.Mode == "" {
		out.Mode = d.Mode
	}
	if out.Workers == 0 {
		out.Workers = d.Workers
	}
	if req.Landmarks != nil {
		out.Landmarks = *req.Landmarks
	}
	if req.DepartureDefault != nil {
		out.DepartureDefault = *req.DepartureDefault
	}
	return out
}
