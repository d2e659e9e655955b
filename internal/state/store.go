package state

import "context"

// Store is a small durable key/value surface used for order idempotency
// records and exchange nonces.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
