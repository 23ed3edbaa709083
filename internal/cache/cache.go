// Package cache declares the byte cache used for hot read paths.
package cache

import (
	"context"
	"time"
)

// BytesCache is a best-effort key/value cache. A miss is (nil, false, nil).
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

func LatestLocationKey(loadID string) string {
	return "load:" + loadID + ":location:latest"
}

// LatestCache keeps one value per key tagged with a version and never
// replaces it with a value of a lower version.
type LatestCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetIfNewer(ctx context.Context, key string, value []byte, version int64, ttl time.Duration) (bool, error)
}

// VersionKey is where a LatestCache keeps the version of key.
func VersionKey(key string) string {
	return key + ":version"
}
