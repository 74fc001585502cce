package docstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisOptions configures NewRedis.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisStore implements Store on Redis. Each document is a hash
// doc:{collection}:{key} with fields data and ts; each collection keeps a
// sorted set idx:{collection} of keys scored by timestamp in microseconds.
type RedisStore struct {
	rdb *goredis.Client
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func docKey(collection, key string) string { return "doc:" + collection + ":" + key }
func indexKey(collection string) string    { return "idx:" + collection }

// Ping verifies connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close closes the client.
func (r *RedisStore) Close() error {
	return r.rdb.Close()
}

// Get returns the document at collection/key.
func (r *RedisStore) Get(ctx context.Context, collection, key string) (Document, error) {
	fields, err := r.rdb.HGetAll(ctx, docKey(collection, key)).Result()
	if err != nil {
		return Document{}, fmt.Errorf("redis get %s/%s: %w", collection, key, err)
	}
	return decodeHash(key, fields)
}

func decodeHash(key string, fields map[string]string) (Document, error) {
	data, ok := fields["data"]
	if !ok {
		return Document{}, ErrNotFound
	}
	ts, err := strconv.ParseInt(fields["ts"], 10, 64)
	if err != nil {
		return Document{}, fmt.Errorf("parse timestamp of %s: %w", key, err)
	}
	return Document{Key: key, Data: []byte(data), Timestamp: time.Unix(0, ts).UTC()}, nil
}

// Set writes the document, replacing any previous one.
func (r *RedisStore) Set(ctx context.Context, collection, key string, data []byte, ts time.Time) error {
	_, err := r.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, docKey(collection, key), "data", data, "ts", ts.UnixNano())
		p.ZAdd(ctx, indexKey(collection), goredis.Z{Score: float64(ts.UnixMicro()), Member: key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set %s/%s: %w", collection, key, err)
	}
	return nil
}

// Add stores data under a generated key.
func (r *RedisStore) Add(ctx context.Context, collection string, data []byte, ts time.Time) (string, error) {
	key, err := newKey()
	if err != nil {
		return "", err
	}
	if err := r.Set(ctx, collection, key, data, ts); err != nil {
		return "", err
	}
	return key, nil
}

// Update replaces the data of an existing document.
func (r *RedisStore) Update(ctx context.Context, collection, key string, data []byte) error {
	k := docKey(collection, key)
	err := r.rdb.Watch(ctx, func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, k).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.HSet(ctx, k, "data", data)
			return nil
		})
		return err
	}, k)
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("redis update %s/%s: %w", collection, key, err)
	}
	return nil
}

// Delete removes the document.
func (r *RedisStore) Delete(ctx context.Context, collection, key string) error {
	_, err := r.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, docKey(collection, key))
		p.ZRem(ctx, indexKey(collection), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete %s/%s: %w", collection, key, err)
	}
	return nil
}

// Query lists the documents of a collection in timestamp order. Members
// with equal scores are ordered by key. Index entries whose document is
// gone are removed and do not count towards the limit.
func (r *RedisStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	var (
		docs  []Document
		start int64
	)
	for {
		stop := int64(-1)
		if q.Limit > 0 {
			stop = start + int64(q.Limit-len(docs)) - 1
		}
		keys, err := r.indexRange(ctx, collection, start, stop, q.Descending)
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			return docs, nil
		}

		page, orphans, err := r.loadDocs(ctx, collection, keys)
		if err != nil {
			return nil, err
		}
		docs = append(docs, page...)
		if len(orphans) > 0 {
			if err := r.rdb.ZRem(ctx, indexKey(collection), orphans...).Err(); err != nil {
				return nil, fmt.Errorf("redis prune %s: %w", collection, err)
			}
		}
		if stop < 0 || len(docs) >= q.Limit || int64(len(keys)) < stop-start+1 {
			return docs, nil
		}
		// Removed members no longer occupy ranks.
		start += int64(len(keys) - len(orphans))
	}
}

func (r *RedisStore) indexRange(ctx context.Context, collection string, start, stop int64, descending bool) ([]string, error) {
	var (
		keys []string
		err  error
	)
	if descending {
		keys, err = r.rdb.ZRevRange(ctx, indexKey(collection), start, stop).Result()
	} else {
		keys, err = r.rdb.ZRange(ctx, indexKey(collection), start, stop).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("redis query %s: %w", collection, err)
	}
	return keys, nil
}

// loadDocs fetches the documents for keys in one round trip. Keys whose
// document no longer exists are returned as orphans.
func (r *RedisStore) loadDocs(ctx context.Context, collection string, keys []string) ([]Document, []any, error) {
	cmds := make([]*goredis.MapStringStringCmd, len(keys))
	_, err := r.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = p.HGetAll(ctx, docKey(collection, key))
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("redis query %s: %w", collection, err)
	}

	docs := make([]Document, 0, len(keys))
	var orphans []any
	for i, cmd := range cmds {
		doc, err := decodeHash(keys[i], cmd.Val())
		if errors.Is(err, ErrNotFound) {
			orphans = append(orphans, keys[i])
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		docs = append(docs, doc)
	}
	return docs, orphans, nil
}
