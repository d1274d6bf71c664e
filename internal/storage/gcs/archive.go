// Package gcs archives the finished input table to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/profile-email-enricher/internal/enricher"
)

// Config captures the archive destination.
type Config struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
}

// Archive uploads a local file when the run flushes. It never writes per row.
type Archive struct {
	client *storage.Client
	bucket string
	prefix string
	path   string
	runID  string
	logger *zap.Logger
}

// New creates an Archive for the file at localPath.
func New(client *storage.Client, cfg Config, localPath, runID string, logger *zap.Logger) (*Archive, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if localPath == "" {
		return nil, fmt.Errorf("local path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archive{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		path:   localPath,
		runID:  runID,
		logger: logger,
	}, nil
}

// ObjectName is "<prefix>/<base>-<runID><ext>".
func (a *Archive) ObjectName() string {
	base := filepath.Base(a.path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	if a.runID != "" {
		name += "-" + a.runID
	}
	name += ext
	if a.prefix == "" {
		return name
	}
	return path.Join(a.prefix, name)
}

// Persist does nothing; the archive is taken once at Flush.
func (a *Archive) Persist(context.Context, []enricher.Row, int) error {
	return nil
}

// Flush uploads the local file.
func (a *Archive) Flush(ctx context.Context, _ []enricher.Row) error {
	// #nosec G304 -- the path comes from operator configuration.
	f, err := os.Open(a.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", a.path, err)
	}
	defer func() { _ = f.Close() }()

	uri, err := a.PutObject(ctx, a.ObjectName(), contentType(a.path), f)
	if err != nil {
		return err
	}
	a.logger.Info("archived table", zap.String("uri", uri))
	return nil
}

// PutObject uploads data to the configured bucket and returns a gs:// URI.
func (a *Archive) PutObject(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("object name is required")
	}
	writer := a.client.Bucket(a.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, name), nil
}

func contentType(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".xlsm":
		return "application/vnd.ms-excel.sheet.macroEnabled.12"
	default:
		return "application/octet-stream"
	}
}

// Dial creates a storage client with application default credentials and checks
// that the bucket is reachable, so a bad configuration fails before any row is processed.
func Dial(ctx context.Context, bucket string, opts ...option.ClientOption) (*storage.Client, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("get gcs bucket %q attributes: %w", bucket, err)
	}
	return client, nil
}
