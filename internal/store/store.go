package store

import (
	"context"
	"errors"
)

// ErrNotFound indicates the key does not exist in the gateway.
var ErrNotFound = errors.New("store: not found")

// Record is one key/value pair returned by List.
type Record struct {
	Key   string
	Value []byte
}

// Gateway is the persistence contract consumed by the identity service.
// Implementations must return records from List ordered by key.
type Gateway interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Record, error)
}

// Pinger is implemented by gateways that can report backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}
