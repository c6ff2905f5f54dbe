// Package archive mirrors result files into object storage so outbound
// notifications can point at a shared copy instead of the processing host.
package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
	_ "gocloud.dev/blob/fileblob" // local directory driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
)

// Archive copies files into a bucket opened from a gocloud URL
// (file://, s3://, gs://).
type Archive struct {
	bucket *blob.Bucket
	base   url.URL
	logger *slog.Logger
}

// Open opens the bucket behind bucketURL. Query parameters configure the
// driver and are left out of the URIs returned by Put.
func Open(ctx context.Context, bucketURL string, logger *slog.Logger) (*Archive, error) {
	u, err := url.Parse(bucketURL)
	if err != nil {
		return nil, fmt.Errorf("parse archive url: %w", err)
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open archive bucket %s: %w", u.Redacted(), err)
	}
	base := *u
	base.RawQuery = ""
	return &Archive{bucket: bucket, base: base, logger: logger}, nil
}

// Put uploads the local file at p under its base name and returns the URI of
// the archived copy. A copy of the same size already in the bucket is kept.
func (a *Archive) Put(ctx context.Context, p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", p, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", p, err)
	}
	key := filepath.Base(p)
	archived, err := a.archived(ctx, key, info.Size())
	if err != nil {
		return "", err
	}
	if archived {
		a.logger.Debug("result already archived", "path", p, "key", key)
		return a.uri(key), nil
	}

	w, err := a.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return "", fmt.Errorf("create writer for %s: %w", key, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close writer for %s: %w", key, err)
	}

	a.logger.Debug("result archived", "path", p, "key", key)
	return a.uri(key), nil
}

// PutAll archives every file and returns a map from local path to URI. It
// stops at the first failure.
func (a *Archive) PutAll(ctx context.Context, paths []string) (map[string]string, error) {
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		uri, err := a.Put(ctx, p)
		if err != nil {
			return out, err
		}
		out[p] = uri
	}
	return out, nil
}

// archived reports whether key holds an object of the given size.
func (a *Archive) archived(ctx context.Context, key string, size int64) (bool, error) {
	attrs, err := a.bucket.Attributes(ctx, key)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("attributes of %s: %w", key, err)
	}
	return attrs.Size == size, nil
}

func (a *Archive) Close() error {
	if a.bucket != nil {
		return a.bucket.Close()
	}
	return nil
}

func (a *Archive) uri(key string) string {
	u := a.base
	u.Path = path.Join("/", u.Path, key)
	return u.String()
}
