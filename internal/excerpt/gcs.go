package excerpt

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSFetcher reads object prefixes from Google Cloud Storage via range
// reads, so excerpt construction never downloads a whole document.
type GCSFetcher struct {
	client  *storage.Client
	timeout time.Duration
}

func NewGCSFetcher(ctx context.Context, timeout time.Duration, opts ...option.ClientOption) (*GCSFetcher, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSFetcher{client: client, timeout: timeout}, nil
}

func (f *GCSFetcher) Head(ctx context.Context, uri string, maxBytes int) (string, error) {
	bucket, object, err := parseGSURI(uri)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	r, err := f.client.Bucket(bucket).Object(object).NewRangeReader(ctx, 0, int64(maxBytes))
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", uri, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", uri, err)
	}

	return strings.TrimSpace(string(data)), nil
}

func (f *GCSFetcher) Close() error {
	return f.client.Close()
}

func parseGSURI(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// uri: %q", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("malformed gs:// uri: %q", uri)
	}
	return bucket, object, nil
}
