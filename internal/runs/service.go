package runs

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/cordontrips/cordontrips/internal/api/models"
	"github.com/cordontrips/cordontrips/internal/source"
)

// Service manages the run lifecycle on top of a Repository.
type Service struct {
	repo     Repository
	validate *validator.Validate
	policy   source.Policy
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLocationPolicy confines the input and output locations a run may name.
// Default: local paths under the working directory and no remote hosts.
func WithLocationPolicy(p source.Policy) Option {
	return func(s *Service) {
		s.policy = p
	}
}

// NewService creates a run service.
func NewService(repo Repository, opts ...Option) *Service {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	s := &Service{
		repo:     repo,
		validate: v,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates req and stores a pending run.
func (s *Service) Create(ctx context.Context, req Request) (*Run, error) {
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, &ValidationError{Errors: fieldErrors(verrs)}
		}
		return nil, err
	}
	if errs := s.checkLocations(req); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	run := &Run{
		ID:        "run_" + uuid.New().String(),
		Status:    StatusPending,
		Request:   req,
		Skipped:   map[string]int{},
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

// Get returns a run.
func (s *Service) Get(ctx context.Context, id string) (*Run, error) {
	return s.repo.Get(ctx, id)
}

// List returns runs newest first.
func (s *Service) List(ctx context.Context, opts ListOptions) ([]*Run, error) {
	return s.repo.List(ctx, opts)
}

// MarkRunning moves a pending run to running. A run already running is
// returned unchanged so redelivered jobs can resume it.
func (s *Service) MarkRunning(ctx context.Context, id string) (*Run, error) {
	run, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch run.Status {
	case StatusRunning:
		return run, nil
	case StatusPending:
	default:
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, run.Status, StatusRunning)
	}

	now := s.now().UTC()
	run.Status = StatusRunning
	run.StartedAt = &now
	if err := s.repo.Update(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// Complete records a successful outcome.
func (s *Service) Complete(ctx context.Context, id string, out Outcome) (*Run, error) {
	return s.finish(ctx, id, func(run *Run) {
		run.Status = StatusSucceeded
		run.Processed = out.Processed
		run.Emitted = out.Emitted
		run.Skipped = out.Skipped
		run.BoundaryLinks = out.BoundaryLinks
		run.Error = ""
	})
}

// Fail records a failure.
func (s *Service) Fail(ctx context.Context, id string, cause error) (*Run, error) {
	return s.finish(ctx, id, func(run *Run) {
		run.Status = StatusFailed
		run.Error = cause.Error()
	})
}

func (s *Service) finish(ctx context.Context, id string, apply func(*Run)) (*Run, error) {
	run, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status.Terminal() {
		return nil, fmt.Errorf("%w: run %s already %s", ErrInvalidTransition, id, run.Status)
	}

	now := s.now().UTC()
	if run.StartedAt == nil {
		run.StartedAt = &now
	}
	run.FinishedAt = &now
	apply(run)

	if err := s.repo.Update(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Service) checkLocations(req Request) []models.FieldError {
	var out []models.FieldError
	check := func(field, uri string, resolve func(string) (string, error)) {
		if _, err := resolve(uri); err != nil {
			out = append(out, models.FieldError{
				Field:   field,
				Message: locationMessage(err),
				Code:    "location",
			})
		}
	}
	check("plans", req.Plans, s.policy.Input)
	check("network", req.Network, s.policy.Input)
	check("region", req.Region, s.policy.Input)
	check("output", req.Output, s.policy.Output)
	return out
}

func locationMessage(err error) string {
	switch {
	case errors.Is(err, source.ErrOutsideDataRoot):
		return "must be inside the data root"
	case errors.Is(err, source.ErrHostNotAllowed):
		return "host is not allowed"
	case errors.Is(err, source.ErrNotLocal):
		return "must be a local path"
	case errors.Is(err, source.ErrUnsupportedScheme):
		return "scheme is not supported"
	default:
		return "is not a valid location"
	}
}

func fieldErrors(verrs validator.ValidationErrors) []models.FieldError {
	out := make([]models.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, models.FieldError{
			Field:   fe.Field(),
			Message: message(fe),
			Code:    fe.Tag(),
		})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	default:
		return "is invalid"
	}
}
