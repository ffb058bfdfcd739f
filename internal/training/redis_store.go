package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"illustrationd/internal/config"
)

const maxTxRetries = 8

// RedisStore keeps job records in Redis so status survives restarts and is
// visible to every replica. Finished records expire after TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return NewRedisStoreWithClient(client, cfg.KeyPrefix, time.Duration(cfg.JobTTLSeconds)*time.Second), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) key(id string) string { return s.prefix + "training:job:" + id }

func (s *RedisStore) Create(ctx context.Context, job Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.key(job.JobID), b, 0).Result()
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.JobID, err)
	}
	if !ok {
		return fmt.Errorf("job %s already exists", job.JobID)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Job, error) {
	b, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Job{}, ErrJobNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	var j Job
	if err := json.Unmarshal(b, &j); err != nil {
		return Job{}, fmt.Errorf("decode job %s: %w", id, err)
	}
	return j, nil
}

// Transition reads, checks and writes the record inside WATCH so concurrent
// writers cannot regress the status.
func (s *RedisStore) Transition(ctx context.Context, id string, to Status, mutate func(*Job)) (Job, error) {
	key := s.key(id)
	var out Job
	txf := func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		var j Job
		if err := json.Unmarshal(b, &j); err != nil {
			return fmt.Errorf("decode job %s: %w", id, err)
		}
		if !CanTransition(j.Status, to) {
			out = j
			return transitionError{id: id, from: j.Status, to: to}
		}
		j.Status = to
		if mutate != nil {
			mutate(&j)
		}
		j.UpdatedAt = time.Now()
		nb, err := json.Marshal(j)
		if err != nil {
			return err
		}
		var ttl time.Duration
		if to.Terminal() {
			ttl = s.ttl
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, nb, ttl)
			return nil
		})
		if err == nil {
			out = j
		}
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return out, err
	}
	return out, fmt.Errorf("job %s: too much contention updating status", id)
}
