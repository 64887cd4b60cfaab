package evidence

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	// MinDescriptionLen gates dispute creation before any network call.
	MinDescriptionLen = 10

	// DefaultMaxVideoBytes is the per-file video cap, surfaced as "100 MB".
	DefaultMaxVideoBytes = 100 << 20
)

var (
	ErrDescriptionTooShort = errors.New("evidence: description must be at least 10 characters")
	ErrVideoTooLarge       = errors.New("evidence: video exceeds the 100 MB limit")

	// ErrUploadFailed marks a transport-level failure: the object most
	// likely does not exist in storage.
	ErrUploadFailed = errors.New("upload failed, please try again")

	// ErrVerificationFailed marks a missing integrity token: the bytes may
	// have landed but cannot be trusted, which is a distinct user message.
	ErrVerificationFailed = errors.New("upload completed but verification failed, please retry")
)

// RequirementError reports an unmet evidence bar using the exact text of
// the inline hint for the flow.
type RequirementError struct {
	Flow FlowKind
}

func (e *RequirementError) Error() string {
	return RequirementHint(e.Flow)
}

// Grant is a time-limited direct-upload authorization.
type Grant struct {
	URL     string
	Headers map[string]string
	Key     string
}

// Validator performs the single batch preflight round-trip so quota and
// type violations fail before any bytes are transferred.
type Validator interface {
	ValidateBatch(ctx context.Context, bookingID string, files []FileMeta) error
}

// Presigner obtains one upload grant per file.
type Presigner interface {
	PresignUpload(ctx context.Context, bookingID string, meta FileMeta) (Grant, error)
}

// BlobStore transfers bytes to the storage endpoint using a grant and
// returns the integrity token from the storage response.
type BlobStore interface {
	Put(ctx context.Context, grant Grant, contentType string, data []byte) (string, error)
}

// CreateRequest is the dispute-creation payload issued once all presigns
// have succeeded, so a presign failure never orphans an evidence-less
// dispute.
type CreateRequest struct {
	BookingID   string
	ActorID     string
	Category    string
	Flow        FlowKind
	Description string
}

// CompletedFile registers a verified upload against the dispute.
type CompletedFile struct {
	Key            string
	Filename       string
	ContentType    string
	Size           int64
	IntegrityToken string
	Kind           Kind
	Width          int
	Height         int
	OriginalSize   int64
	CompressedSize int64
}

// Registrar is the dispute-side half of the pipeline.
type Registrar interface {
	CreateDispute(ctx context.Context, req CreateRequest) (string, error)
	CompleteEvidence(ctx context.Context, disputeID string, file CompletedFile) error
}

// PhotoCompressor shrinks photo bytes before presigning. Compression
// itself is an external utility; the pipeline only records the metrics.
type PhotoCompressor interface {
	Compress(ctx context.Context, meta FileMeta, data []byte) ([]byte, error)
}

// Uploader orchestrates a batch submission:
// validate, presign per file, create dispute (first submission only),
// upload per file, complete per file, notify. Files are processed
// sequentially so every failure is attributable to one filename. No step
// retries automatically; failures surface to the user for manual retry.
type Uploader struct {
	validator     Validator
	presigner     Presigner
	store         BlobStore
	registrar     Registrar
	compressor    PhotoCompressor
	maxVideoBytes int64
	notify        func(disputeID string)
}

func NewUploader(v Validator, p Presigner, s BlobStore, r Registrar) *Uploader {
	return &Uploader{
		validator:     v,
		presigner:     p,
		store:         s,
		registrar:     r,
		maxVideoBytes: DefaultMaxVideoBytes,
	}
}

// WithCompressor installs client-side photo compression.
func (u *Uploader) WithCompressor(c PhotoCompressor) *Uploader {
	u.compressor = c
	return u
}

// WithNotify installs the full-batch-success callback used by list views
// to refresh without a reload.
func (u *Uploader) WithNotify(fn func(disputeID string)) *Uploader {
	u.notify = fn
	return u
}

func (u *Uploader) WithVideoLimit(maxBytes int64) *Uploader {
	u.maxVideoBytes = maxBytes
	return u
}

// Submission is one batch: either the first submission of a new dispute
// (DisputeID empty) or additional evidence on an existing one.
type Submission struct {
	BookingID   string
	DisputeID   string
	ActorID     string
	Category    string
	Flow        FlowKind
	Description string
	Candidates  []Candidate
}

// Submit runs the full pipeline and returns the dispute id the batch was
// registered against. Completed files are never rolled back on a later
// failure; the returned error names the file that stopped the batch.
func (u *Uploader) Submit(ctx context.Context, sub Submission) (string, error) {
	if len(sub.Candidates) == 0 {
		return "", fmt.Errorf("evidence: empty batch")
	}

	creating := sub.DisputeID == ""
	if creating {
		if len(strings.TrimSpace(sub.Description)) < MinDescriptionLen {
			return "", ErrDescriptionTooShort
		}
		if !MeetsRequirement(sub.Flow, sub.Candidates) {
			return "", &RequirementError{Flow: sub.Flow}
		}
	}

	candidates := make([]Candidate, len(sub.Candidates))
	copy(candidates, sub.Candidates)

	for i := range candidates {
		c := &candidates[i]
		switch c.Kind {
		case KindPhoto, KindVideo:
		default:
			return "", &FileError{Filename: c.Meta.Filename, Err: ErrUnsupportedKind}
		}
		if c.Kind == KindVideo && c.Meta.Size > u.maxVideoBytes {
			return "", &FileError{Filename: c.Meta.Filename, Err: ErrVideoTooLarge}
		}
	}

	if u.compressor != nil {
		for i := range candidates {
			c := &candidates[i]
			if c.Kind != KindPhoto {
				continue
			}
			out, err := u.compressor.Compress(ctx, c.Meta, c.Data)
			if err != nil {
				return "", &FileError{Filename: c.Meta.Filename, Err: err}
			}
			c.Data = out
			c.CompressedSize = int64(len(out))
			c.Meta.Size = int64(len(out))
		}
	}

	metas := make([]FileMeta, len(candidates))
	for i, c := range candidates {
		metas[i] = c.Meta
	}
	if err := u.validator.ValidateBatch(ctx, sub.BookingID, metas); err != nil {
		return "", err
	}

	grants := make([]Grant, len(candidates))
	for i, c := range candidates {
		grant, err := u.presigner.PresignUpload(ctx, sub.BookingID, c.Meta)
		if err != nil {
			return "", &FileError{Filename: c.Meta.Filename, Err: err}
		}
		grants[i] = grant
	}

	disputeID := sub.DisputeID
	if creating {
		id, err := u.registrar.CreateDispute(ctx, CreateRequest{
			BookingID:   sub.BookingID,
			ActorID:     sub.ActorID,
			Category:    sub.Category,
			Flow:        sub.Flow,
			Description: sub.Description,
		})
		if err != nil {
			return "", err
		}
		disputeID = id
	}

	for i, c := range candidates {
		etag, err := u.store.Put(ctx, grants[i], c.Meta.ContentType, c.Data)
		if err != nil {
			return disputeID, &FileError{Filename: c.Meta.Filename, Err: err}
		}
		if etag == "" {
			return disputeID, &FileError{Filename: c.Meta.Filename, Err: ErrVerificationFailed}
		}

		file := CompletedFile{
			Key:            grants[i].Key,
			Filename:       c.Meta.Filename,
			ContentType:    c.Meta.ContentType,
			Size:           c.Meta.Size,
			IntegrityToken: etag,
			Kind:           c.Kind,
		}
		if c.Kind == KindPhoto {
			file.Width = c.Meta.Width
			file.Height = c.Meta.Height
			file.OriginalSize = c.OriginalSize
			file.CompressedSize = c.CompressedSize
		}
		if err := u.registrar.CompleteEvidence(ctx, disputeID, file); err != nil {
			return disputeID, &FileError{Filename: c.Meta.Filename, Err: err}
		}
	}

	if u.notify != nil {
		u.notify(disputeID)
	}
	return disputeID, nil
}
