package kv

import (
	"context"
	"errors"
)

// ErrUnavailable reports that the backing store rejected a read or write
// (quota, connectivity). Callers keep their in-memory state on write
// failure; the error only surfaces as a warning.
var ErrUnavailable = errors.New("kv store unavailable")

// KV is the single persistence surface: string values under string keys,
// mirroring the browser localStorage contract the dataset was designed for.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string) error
}

// Noop discards writes and never finds a key. Used when persistence is
// explicitly disabled (tests, ephemeral demo mode).
type Noop struct{}

func (Noop) Get(_ context.Context, _ string) (string, bool, error) { return "", false, nil }

func (Noop) Set(_ context.Context, _ string, _ string) error { return nil }
