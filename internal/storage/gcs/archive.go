// Package gcs archives run artifacts (snapshot and report) to a Google Cloud
// Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// ObjectWriter uploads one object.
type ObjectWriter interface {
	WriteObject(ctx context.Context, object, contentType string, r io.Reader) error
}

// BucketWriter writes objects into a single bucket.
type BucketWriter struct {
	client *storage.Client
	bucket string
}

// NewBucketWriter wraps client for bucket.
func NewBucketWriter(client *storage.Client, bucket string) (*BucketWriter, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	return &BucketWriter{client: client, bucket: bucket}, nil
}

// WriteObject streams r into the object.
func (b *BucketWriter) WriteObject(ctx context.Context, object, contentType string, r io.Reader) error {
	writer := b.client.Bucket(b.bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

// Config names the archive location.
type Config struct {
	Bucket string
	Prefix string
}

// File is one local artifact to archive.
type File struct {
	Name        string
	Path        string
	ContentType string
}

// Archive copies run artifacts to runs/<run id>/ and latest/ under Prefix.
type Archive struct {
	writer ObjectWriter
	bucket string
	prefix string
	logger *zap.Logger
}

// New builds an Archive.
func New(writer ObjectWriter, cfg Config, logger *zap.Logger) (*Archive, error) {
	if writer == nil {
		return nil, errors.New("object writer is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{
		writer: writer,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger.Named("gcs"),
	}, nil
}

// Store uploads every file twice, once per run and once as the latest copy,
// and returns the gs:// URIs of the per-run objects.
func (a *Archive) Store(ctx context.Context, runID string, files ...File) ([]string, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, errors.New("run id is required")
	}
	uris := make([]string, 0, len(files))
	for _, f := range files {
		for _, object := range []string{a.object("runs", runID, f.Name), a.object("latest", f.Name)} {
			if err := a.upload(ctx, object, f); err != nil {
				return uris, err
			}
		}
		uri := fmt.Sprintf("gs://%s/%s", a.bucket, a.object("runs", runID, f.Name))
		a.logger.Info("artifact archived", zap.String("uri", uri))
		uris = append(uris, uri)
	}
	return uris, nil
}

func (a *Archive) upload(ctx context.Context, object string, f File) error {
	file, err := os.Open(f.Path) // #nosec G304 -- artifact paths come from config
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			a.logger.Debug("Failed to close artifact", zap.String("path", f.Path), zap.Error(cerr))
		}
	}()
	if err := a.writer.WriteObject(ctx, object, f.ContentType, file); err != nil {
		return fmt.Errorf("upload %s: %w", object, err)
	}
	return nil
}

func (a *Archive) object(parts ...string) string {
	if a.prefix != "" {
		parts = append([]string{a.prefix}, parts...)
	}
	return path.Join(parts...)
}
