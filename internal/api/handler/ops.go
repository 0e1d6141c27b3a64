// Package handler provides HTTP handlers for the cordontrips API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/cordontrips/cordontrips/internal/api/models"
	"github.com/cordontrips/cordontrips/internal/api/response"
	"github.com/cordontrips/cordontrips/internal/source"
)

// readinessTimeout bounds each dependency check.
const readinessTimeout = 2 * time.Second

// ReadinessCheck is one dependency checked by the readiness endpoint.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HostHealthReporter reports the breaker state of remote input hosts.
type HostHealthReporter interface {
	Health() []source.HostHealth
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	checks    []ReadinessCheck
	hosts     HostHealthReporter
}

// NewOpsHandler creates a new OpsHandler. hosts may be nil.
func NewOpsHandler(version, buildTime string, checks []ReadinessCheck, hosts HostHealthReporter) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		checks:    checks,
		hosts:     hosts,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready. A failed dependency makes the
// service unready (503); an open breaker on an input host only degrades it.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	ready := models.Readiness{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Checks: make([]models.DependencyCheck, 0, len(h.checks)),
	}

	for _, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		err := c.Check(ctx)
		cancel()

		check := models.DependencyCheck{Name: c.Name, Status: models.HealthStatusOK}
		if err != nil {
			detail := err.Error()
			check.Status = models.HealthStatusFail
			check.Detail = &detail
			ready.Status = models.HealthStatusFail
		}
		ready.Checks = append(ready.Checks, check)
	}

	if h.hosts != nil {
		for _, host := range h.hosts.Health() {
			check := models.DependencyCheck{Name: "source:" + host.Host, Status: models.HealthStatusOK}
			if !host.Healthy() {
				detail := "circuit breaker " + host.State.String()
				check.Status = models.HealthStatusDegraded
				check.Detail = &detail
				if ready.Status == models.HealthStatusOK {
					ready.Status = models.HealthStatusDegraded
				}
			}
			ready.Checks = append(ready.Checks, check)
		}
	}

	status := http.StatusOK
	if ready.Status == models.HealthStatusFail {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, r, status, ready)
}
