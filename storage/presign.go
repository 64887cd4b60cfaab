package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"rentflow/evidence"
)

const (
	maxPhotoBytes = 10 << 20
	maxVideoBytes = 100 << 20

	// MaxBatchFiles caps one evidence submission.
	MaxBatchFiles = 10

	defaultPresignTTL = time.Hour
)

var ErrObjectMissing = errors.New("storage: object not found")

var allowedContentTypes = map[evidence.Kind][]string{
	evidence.KindPhoto: {
		"image/jpeg", "image/jpg", "image/png", "image/webp", "image/heic",
	},
	evidence.KindVideo: {
		"video/mp4", "video/quicktime", "video/avi", "video/webm", "video/mov",
	},
}

// Config describes the object-storage endpoint used for evidence uploads.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PublicURL       string
	PresignTTL      time.Duration
}

// Service issues presigned upload grants and verifies landed objects.
type Service struct {
	client  *s3.Client
	presign *s3.PresignClient
	cfg     Config
}

func NewService(cfg Config) *Service {
	if cfg.PresignTTL == 0 {
		cfg.PresignTTL = defaultPresignTTL
	}

	opts := s3.Options{
		Region: cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	client := s3.New(opts)
	return &Service{
		client:  client,
		presign: s3.NewPresignClient(client),
		cfg:     cfg,
	}
}

// ValidateBatch is the preflight check run before any bytes transfer.
// It rejects the whole batch on the first offending file so quota and
// type violations never burn upload bandwidth.
func (s *Service) ValidateBatch(ctx context.Context, bookingID string, files []evidence.FileMeta) error {
	if bookingID == "" {
		return fmt.Errorf("storage: missing booking id")
	}
	if len(files) == 0 {
		return fmt.Errorf("storage: empty batch")
	}
	if len(files) > MaxBatchFiles {
		return fmt.Errorf("storage: at most %d files per submission", MaxBatchFiles)
	}
	for _, meta := range files {
		if err := validateMeta(meta); err != nil {
			return err
		}
	}
	return nil
}

func validateMeta(meta evidence.FileMeta) error {
	kind := evidence.Classify(meta)
	allowed, ok := allowedContentTypes[kind]
	if !ok {
		return &evidence.FileError{Filename: meta.Filename, Err: evidence.ErrUnsupportedKind}
	}

	if meta.ContentType != "" {
		match := false
		for _, ct := range allowed {
			if meta.ContentType == ct {
				match = true
				break
			}
		}
		if !match {
			return &evidence.FileError{
				Filename: meta.Filename,
				Err:      fmt.Errorf("storage: content type %q not accepted", meta.ContentType),
			}
		}
	}

	limit := int64(maxPhotoBytes)
	if kind == evidence.KindVideo {
		limit = maxVideoBytes
	}
	if meta.Size <= 0 {
		return &evidence.FileError{Filename: meta.Filename, Err: fmt.Errorf("storage: missing file size")}
	}
	if meta.Size > limit {
		return &evidence.FileError{
			Filename: meta.Filename,
			Err:      fmt.Errorf("storage: file exceeds the %d MB limit", limit>>20),
		}
	}
	return nil
}

// PresignUpload returns a direct-upload grant for one file. The object key
// namespaces evidence under its booking.
func (s *Service) PresignUpload(ctx context.Context, bookingID string, meta evidence.FileMeta) (evidence.Grant, error) {
	if err := validateMeta(meta); err != nil {
		return evidence.Grant{}, err
	}

	key := s.buildKey(bookingID, meta.Filename)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(meta.ContentType),
	}

	req, err := s.presign.PresignPutObject(ctx, input, func(opts *s3.PresignOptions) {
		opts.Expires = s.cfg.PresignTTL
	})
	if err != nil {
		return evidence.Grant{}, fmt.Errorf("storage: presign put: %w", err)
	}

	headers := make(map[string]string, len(req.SignedHeader))
	for name, values := range req.SignedHeader {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	return evidence.Grant{
		URL:     req.URL,
		Headers: headers,
		Key:     key,
	}, nil
}

// Verify confirms the object landed and returns its stored size and ETag.
// Used by evidence completion as a server-side existence check.
func (s *Service) Verify(ctx context.Context, key string) (int64, string, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, "", ErrObjectMissing
	}

	var size int64
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	var etag string
	if out.ETag != nil {
		etag = *out.ETag
	}
	return size, etag, nil
}

// ObjectURL returns the public URL for a stored evidence object.
func (s *Service) ObjectURL(key string) string {
	return fmt.Sprintf("%s/%s", s.cfg.PublicURL, key)
}

func (s *Service) buildKey(bookingID, filename string) string {
	ext := filepath.Ext(filename)
	return fmt.Sprintf("disputes/%s/%d_%s%s", bookingID, time.Now().Unix(), uuid.NewString(), ext)
}
