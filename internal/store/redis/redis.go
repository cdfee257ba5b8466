package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/loykin/taskvisor/internal/model"
	"github.com/loykin/taskvisor/internal/store"
)

// DefaultKey is used when the DSN does not name one via ?key=.
const DefaultKey = "taskvisor:snapshot"

// Store keeps the snapshot document under a single Redis key. SET replaces
// the value atomically.
type Store struct {
	client *goredis.Client
	key    string
}

// New parses a redis:// URL. An optional "key" query parameter overrides DefaultKey.
func New(dsn string) (*Store, error) {
	key := DefaultKey
	raw := strings.TrimSpace(dsn)
	if i := strings.Index(raw, "?"); i >= 0 {
		q := raw[i+1:]
		kept := make([]string, 0)
		for _, kv := range strings.Split(q, "&") {
			if v, ok := strings.CutPrefix(kv, "key="); ok && v != "" {
				key = v
				continue
			}
			if kv != "" {
				kept = append(kept, kv)
			}
		}
		raw = raw[:i]
		if len(kept) > 0 {
			raw += "?" + strings.Join(kept, "&")
		}
	}
	opts, err := goredis.ParseURL(raw)
	if err != nil {
		return nil, fmt.Errorf("parse redis dsn: %w", err)
	}
	return NewWithClient(goredis.NewClient(opts), key), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(c *goredis.Client, key string) *Store {
	if key == "" {
		key = DefaultKey
	}
	return &Store{client: c, key: key}
}

func (s *Store) Load(ctx context.Context) (model.Snapshot, error) {
	b, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return store.Empty(), nil
	}
	if err != nil {
		return model.Snapshot{}, err
	}
	return store.Decode(b)
}

func (s *Store) Save(ctx context.Context, snap model.Snapshot) error {
	b, err := store.Encode(snap)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key, b, 0).Err()
}

func (s *Store) Close() error { return s.client.Close() }
