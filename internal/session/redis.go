package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/sells-group/cma-engine/internal/model"
)

const (
	keyPrefix        = "cma:session:"
	maxWatchAttempts = 5
	scanCount        = 500
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string `yaml:"address" mapstructure:"address"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// Redis is a Store backed by Redis. Sessions are JSON values under
// cma:session:<id> with a per-key expiry.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient dials Redis with the connection settings.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
}

// NewRedis creates a Redis store on an existing client.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

// Ping tests the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	return eris.Wrap(r.client.Ping(ctx).Err(), "session: redis ping")
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Put(ctx context.Context, s *model.AnalysisSession) error {
	data, err := json.Marshal(s)
	if err != nil {
		return eris.Wrap(err, "session: marshal")
	}
	return eris.Wrapf(r.client.Set(ctx, key(s.ID), data, r.ttl).Err(), "session: put %s", s.ID)
}

func (r *Redis) Get(ctx context.Context, id string) (*model.AnalysisSession, error) {
	data, err := r.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "session: get %s", id)
	}
	var s model.AnalysisSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrapf(err, "session: unmarshal %s", id)
	}
	return &s, nil
}

// UpdateProgress rewrites the progress fields under WATCH so a concurrent
// Put for the same session is never silently overwritten with stale data.
func (r *Redis) UpdateProgress(ctx context.Context, p model.Progress) error {
	k := key(p.SessionID)
	update := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var s model.AnalysisSession
		if err := json.Unmarshal(data, &s); err != nil {
			return eris.Wrap(err, "unmarshal")
		}
		applyProgress(&s, p)
		out, err := json.Marshal(&s)
		if err != nil {
			return eris.Wrap(err, "marshal")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, out, r.ttl)
			return nil
		})
		return err
	}

	for range maxWatchAttempts {
		err := r.client.Watch(ctx, update, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return eris.Wrapf(err, "session: update progress %s", p.SessionID)
	}
	return eris.Errorf("session: update progress %s: too much contention", p.SessionID)
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	return eris.Wrapf(r.client.Del(ctx, key(id)).Err(), "session: delete %s", id)
}

func (r *Redis) Len(ctx context.Context) (int, error) {
	n := 0
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		n++
	}
	return n, eris.Wrap(iter.Err(), "session: scan")
}

func key(id string) string {
	return keyPrefix + id
}
