package materials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	pderrors "github.com/otherjamesbrown/prepd/pkg/errors"
)

const (
	keyPrefixMaterials = "materials:"
	defaultRetention   = 30 * 24 * time.Hour
)

// RedisStore persists materials as JSON under a per-meeting key. The key is
// the reference recorded on the meeting, so replayed generations overwrite
// rather than duplicate.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisStore creates a materials store with the default retention.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, retention: defaultRetention}
}

func (s *RedisStore) Put(ctx context.Context, mat *Materials) (string, error) {
	data, err := json.Marshal(mat)
	if err != nil {
		return "", fmt.Errorf("failed to marshal materials: %w", err)
	}

	ref := keyPrefixMaterials + mat.MeetingID
	if err := s.client.Set(ctx, ref, data, s.retention).Err(); err != nil {
		return "", fmt.Errorf("failed to store materials: %w", err)
	}
	return ref, nil
}

func (s *RedisStore) Get(ctx context.Context, ref string) (*Materials, error) {
	data, err := s.client.Get(ctx, ref).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("materials %s: %w", ref, pderrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load materials: %w", err)
	}

	var mat Materials
	if err := json.Unmarshal(data, &mat); err != nil {
		return nil, fmt.Errorf("failed to unmarshal materials: %w", err)
	}
	return &mat, nil
}

// MemoryStore is an in-process Store for tests.
type MemoryStore struct {
	items map[string]*Materials
}

// NewMemoryStore creates an empty in-process materials store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Materials)}
}

func (s *MemoryStore) Put(ctx context.Context, mat *Materials) (string, error) {
	ref := keyPrefixMaterials + mat.MeetingID
	cp := *mat
	s.items[ref] = &cp
	return ref, nil
}

func (s *MemoryStore) Get(ctx context.Context, ref string) (*Materials, error) {
	mat, ok := s.items[ref]
	if !ok {
		return nil, fmt.Errorf("materials %s: %w", ref, pderrors.ErrNotFound)
	}
	cp := *mat
	return &cp, nil
}

var (
	_ Store = (*RedisStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
