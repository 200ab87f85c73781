package memory

import (
	"context"

	"github.com/patrickmn/go-cache"
)

// KeyValueRepository lives exactly as long as the process, the Go
// equivalent of a browser tab's session storage.
type KeyValueRepository struct {
	cache *cache.Cache
}

func NewKeyValueRepository() *KeyValueRepository {
	return &KeyValueRepository{
		cache: cache.New(cache.NoExpiration, 0),
	}
}

func (r *KeyValueRepository) Get(_ context.Context, key string) (string, bool) {
	x, found := r.cache.Get(key)
	if !found {
		return "", false
	}
	value, ok := x.(string)
	return value, ok
}

func (r *KeyValueRepository) Set(_ context.Context, key, value string) error {
	r.cache.Set(key, value, cache.NoExpiration)
	return nil
}

func (r *KeyValueRepository) Delete(_ context.Context, key string) error {
	r.cache.Delete(key)
	return nil
}
