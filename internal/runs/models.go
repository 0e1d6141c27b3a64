// Package runs records the history of extraction runs.
package runs

import (
	"errors"
	"time"

	"github.com/cordontrips/cordontrips/internal/api/models"
)

// Run errors.
var (
	ErrRunNotFound       = errors.New("run not found")
	ErrInvalidTransition = errors.New("invalid run status transition")
)

// Status is the lifecycle state of a run.
type Status string

// Run states. A run moves pending -> running -> succeeded | failed.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Request describes the inputs and knobs of one extraction. Nil pointer knobs
// take the server defaults.
type Request struct {
	Plans   string `json:"plans" validate:"required"`
	Network string `json:"network" validate:"required"`
	Region  string `json:"region" validate:"required"`
	Output  string `json:"output" validate:"required"`

	CRS              string   `json:"crs,omitempty"`
	Mode             string   `json:"mode,omitempty"`
	Workers          int      `json:"workers,omitempty" validate:"omitempty,min=1,max=256"`
	Landmarks        *int     `json:"landmarks,omitempty" validate:"omitempty,min=0,max=64"`
	DepartureDefault *float64 `json:"departureDefault,omitempty" validate:"omitempty,min=0"`
}

// Run is one extraction and its outcome.
type Run struct {
	ID      string
	Status  Status
	Request Request

	Processed     int
	Emitted       int
	Skipped       map[string]int
	BoundaryLinks int
	Error         string

	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Outcome is the summary recorded when a run succeeds.
type Outcome struct {
	Processed     int
	Emitted       int
	Skipped       map[string]int
	BoundaryLinks int
}

// ValidationError is returned when a request fails validation.
type ValidationError struct {
	Errors []models.FieldError
}

func (e *ValidationError) Error() string {
	return "validation failed"
}
