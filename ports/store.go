package ports

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store.Get when the key is absent
var ErrNotFound = errors.New("key not found")

// Store is one persistence tier for credential keys. The session layer runs
// two of them, an ephemeral and a durable one, with identical key names.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}
