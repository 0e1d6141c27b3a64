package runs

import "context"

// ListOptions filters and pages a run listing.
type ListOptions struct {
	Limit  int
	Status Status
}

// Repository persists runs.
type Repository interface {
	// Get returns ErrRunNotFound for unknown ids.
	Get(ctx context.Context, id string) (*Run, error)

	// List returns runs newest first.
	List(ctx context.Context, opts ListOptions) ([]*Run, error)

	Create(ctx context.Context, run *Run) error

	// Update replaces a stored run; ErrRunNotFound when absent.
	Update(ctx context.Context, run *Run) error
}

const defaultListLimit = 50
