package contract

import "context"

// KeyValueRepository is the small storage surface the client needs: one
// instance backs the tab-scoped session id, another the persistent auth
// token.
type KeyValueRepository interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
