package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an object key does not exist in the backend.
var ErrNotFound = errors.New("storage: object not found")

// PresignOptions tune the generated download URL.
type PresignOptions struct {
	// Disposition sets Content-Disposition, e.g. `attachment; filename="x.mp4"`.
	Disposition string
	// ContentType overrides the response Content-Type.
	ContentType string
}

// Provider is the capability set shared by the local, s3 and oss backends.
// Keys follow the canonical layout in keys.go; writes always use canonical
// keys, reads may probe legacy candidates via ResolveKey.
type Provider interface {
	// Name returns the provider scheme: "local", "s3" or "oss".
	Name() string
	Exists(ctx context.Context, key string) (bool, error)
	PutFile(ctx context.Context, path, key, contentType string) error
	PutBytes(ctx context.Context, data []byte, key, contentType string) error
	GetBytes(ctx context.Context, key string) ([]byte, error)
	GetFile(ctx context.Context, key, path string) error
	Delete(ctx context.Context, key string) error
	// Presign returns a time-limited direct download URL, or "" when the
	// backend cannot presign (local) and callers must proxy the bytes.
	Presign(ctx context.Context, key string, ttl time.Duration, opts PresignOptions) (string, error)
	// URIFor returns the provider-qualified URI for a key,
	// e.g. "s3://bucket/outputs/id/video/final.mp4".
	URIFor(key string) string
}

// ResolveKey probes candidates in order and returns the first existing key.
// Returns ErrNotFound when none exist.
func ResolveKey(ctx context.Context, p Provider, candidates ...string) (string, error) {
	for _, key := range candidates {
		if key == "" {
			continue
		}
		ok, err := p.Exists(ctx, key)
		if err != nil {
			return "", err
		}
		if ok {
			return key, nil
		}
	}
	return "", ErrNotFound
}
