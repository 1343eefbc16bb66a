package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces keys when no prefix is configured.
const DefaultRedisPrefix = "memopipe:"

// RedisStore keeps each record in a hash at {prefix}result:{task} and the set
// of stored task names at {prefix}results.
type RedisStore struct {
	client *redis.Client
	prefix string
	owned  bool
}

// NewRedisStore connects to url (redis://...) and verifies the connection.
func NewRedisStore(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	s := NewRedisStoreFromClient(client, prefix)
	s.owned = true
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client. Close does not close it.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(task string) string { return s.prefix + "result:" + task }
func (s *RedisStore) indexKey() string       { return s.prefix + "results" }

func (s *RedisStore) Get(ctx context.Context, task string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, s.key(task)).Result()
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", task, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	fp, ok := fields["fingerprint"]
	if !ok || fp == "" {
		return nil, fmt.Errorf("%w: %q has no fingerprint", ErrCorruptRecord, task)
	}
	output, ok := fields["output"]
	if !ok {
		return nil, fmt.Errorf("%w: %q has no output", ErrCorruptRecord, task)
	}
	storedAt, err := time.Parse(time.RFC3339Nano, fields["stored_at"])
	if err != nil {
		return nil, fmt.Errorf("%w: bad stored_at for %q: %v", ErrCorruptRecord, task, err)
	}
	return &Record{Task: task, Fingerprint: fp, Output: []byte(output), StoredAt: storedAt}, nil
}

func (s *RedisStore) Put(ctx context.Context, rec Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(rec.Task))
		pipe.HSet(ctx, s.key(rec.Task),
			"fingerprint", rec.Fingerprint,
			"output", rec.Output,
			"size", strconv.Itoa(len(rec.Output)),
			"stored_at", rec.StoredAt.UTC().Format(time.RFC3339Nano),
		)
		pipe.SAdd(ctx, s.indexKey(), rec.Task)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put %q: %w", rec.Task, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, task string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(task))
		pipe.SRem(ctx, s.indexKey(), task)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete %q: %w", task, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]RecordInfo, error) {
	names, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	sort.Strings(names)

	out := make([]RecordInfo, 0, len(names))
	for _, name := range names {
		vals, err := s.client.HMGet(ctx, s.key(name), "fingerprint", "size", "stored_at").Result()
		if err != nil {
			return nil, fmt.Errorf("list %q: %w", name, err)
		}
		fp, _ := vals[0].(string)
		if fp == "" {
			continue
		}
		info := RecordInfo{Task: name, Fingerprint: fp}
		if sz, ok := vals[1].(string); ok {
			info.Size, _ = strconv.ParseInt(sz, 10, 64)
		}
		if at, ok := vals[2].(string); ok {
			info.StoredAt, _ = time.Parse(time.RFC3339Nano, at)
		}
		out = append(out, info)
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
