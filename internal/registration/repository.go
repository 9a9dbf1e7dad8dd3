package registration

import "context"

// Repository defines the interface for registration persistence.
type Repository interface {
	// Get retrieves a registration by device ID.
	Get(ctx context.Context, id string) (*Registration, error)

	// List retrieves registrations ordered by device ID.
	List(ctx context.Context, opts ListOptions) (*ListResult, error)

	// Upsert creates or replaces a registration.
	// Returns true if a new registration was created.
	Upsert(ctx context.Context, reg *Registration) (created bool, err error)

	// Delete removes a registration.
	Delete(ctx context.Context, id string) error
}
