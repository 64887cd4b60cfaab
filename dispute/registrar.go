package dispute

import (
	"context"
	"fmt"

	"rentflow/evidence"
)

// Verifier confirms an object actually landed in storage before its
// evidence record is registered.
type Verifier interface {
	Verify(ctx context.Context, key string) (int64, string, error)
}

// URLResolver maps a storage key to its public URL.
type URLResolver interface {
	ObjectURL(key string) string
}

// Registrar adapts the lifecycle service to the upload pipeline's
// dispute-side interface.
type Registrar struct {
	svc    *Service
	verify Verifier
	urls   URLResolver
}

func NewRegistrar(svc *Service) *Registrar {
	return &Registrar{svc: svc}
}

// WithVerifier enables the server-side existence check on completion.
func (r *Registrar) WithVerifier(v Verifier) *Registrar {
	r.verify = v
	return r
}

func (r *Registrar) WithURLResolver(u URLResolver) *Registrar {
	r.urls = u
	return r
}

func (r *Registrar) CreateDispute(ctx context.Context, req evidence.CreateRequest) (string, error) {
	d, err := r.svc.Create(ctx, CreateParams{
		BookingID:   req.BookingID,
		OpenedBy:    req.ActorID,
		Category:    Category(req.Category),
		Flow:        req.Flow,
		Description: req.Description,
	})
	if err != nil {
		return "", err
	}
	return d.ID, nil
}

func (r *Registrar) CompleteEvidence(ctx context.Context, disputeID string, file evidence.CompletedFile) error {
	if r.verify != nil {
		if _, _, err := r.verify.Verify(ctx, file.Key); err != nil {
			return fmt.Errorf("dispute: verify stored object: %w", err)
		}
	}

	params := EvidenceParams{
		Kind:           file.Kind,
		Filename:       file.Filename,
		ContentType:    file.ContentType,
		Size:           file.Size,
		Width:          file.Width,
		Height:         file.Height,
		OriginalSize:   file.OriginalSize,
		CompressedSize: file.CompressedSize,
		IntegrityToken: file.IntegrityToken,
		S3Key:          file.Key,
	}
	if r.urls != nil {
		params.URL = r.urls.ObjectURL(file.Key)
	}

	_, err := r.svc.RegisterEvidence(ctx, disputeID, params)
	return err
}
