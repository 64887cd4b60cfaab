package tool

import "context"

// ListingReader abstracts repository operations for the service.
type ListingReader interface {
	GetByID(ctx context.Context, id string) (Listing, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]Listing, error)
}

// Service exposes business-level listing operations.
type Service struct {
	repo ListingReader
}

// NewService builds a Service using the provided repository.
func NewService(repo ListingReader) *Service {
	return &Service{repo: repo}
}

// GetByID returns the listing for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Listing, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByOwner returns up to limit listings for an owner.
func (s *Service) ListByOwner(ctx context.Context, ownerID string, limit int) ([]Listing, error) {
	return s.repo.ListByOwner(ctx, ownerID, limit)
}
