package storage

import (
	"context"
	"fmt"
	"strings"
)

// Resolver fetches a material's bytes from the object store. It always
// downloads by key, even when handed something that looks like a presigned
// URL (a caller passing along a URL it read from a prior response) — the
// signature and host in a presigned URL are read-time conveniences, not
// identity, and a stale or expired signature must never cause Resolve to
// fail when the underlying key is still good.
type Resolver struct {
	store *Store
}

func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve accepts either a bare object key (e.g. "images/ab12….png") or a
// full presigned URL previously returned by PresignRead, and downloads the
// underlying object by key in both cases.
func (r *Resolver) Resolve(ctx context.Context, keyOrURL string) ([]byte, error) {
	key := KeyFromReference(r.store.Bucket, keyOrURL)
	if key == "" {
		return nil, fmt.Errorf("material resolver: could not extract key from %q", keyOrURL)
	}
	return r.store.Get(ctx, key)
}

// KeyFromReference strips host, signing query params, and the
// "/storage/v1/object/.../<bucket>/" prefix a presigned or public URL
// carries, leaving the bare object key. A reference that is
// already a bare key (no scheme) is returned unchanged.
func KeyFromReference(bucket, ref string) string {
	if !strings.Contains(ref, "://") {
		return strings.TrimPrefix(ref, "/")
	}

	withoutQuery := ref
	if idx := strings.IndexByte(ref, '?'); idx >= 0 {
		withoutQuery = ref[:idx]
	}

	markers := []string{
		"/storage/v1/object/sign/" + bucket + "/",
		"/storage/v1/object/public/" + bucket + "/",
		"/storage/v1/object/" + bucket + "/",
	}
	for _, marker := range markers {
		if idx := strings.Index(withoutQuery, marker); idx >= 0 {
			return withoutQuery[idx+len(marker):]
		}
	}
	return ""
}
