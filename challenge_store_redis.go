package identity

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
)

const redisChallengePrefix = "idn:challenge"

// RedisChallengeStore is a ChallengeStore on a shared Redis, for deployments
// running more than one instance. Records are JSON values with a server-side
// TTL; per-key atomicity for Update comes from WATCH/MULTI with optimistic
// retry.
type RedisChallengeStore struct {
	client *redis.Client
	prefix string
}

var _ ChallengeStore = (*RedisChallengeStore)(nil)

func NewRedisChallengeStore(client *redis.Client) *RedisChallengeStore {
	return &RedisChallengeStore{
		client: client,
		prefix: redisChallengePrefix,
	}
}

func (s *RedisChallengeStore) key(kind, key string) string {
	return s.prefix + ":" + kind + ":" + key
}

func (s *RedisChallengeStore) Put(ctx context.Context, kind, key string, record any, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode challenge record")
	}

	if err := s.client.Set(ctx, s.key(kind, key), data, ttl).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "challenge store unavailable")
	}
	return nil
}

func (s *RedisChallengeStore) Get(ctx context.Context, kind, key string, out any) error {
	data, err := s.client.Get(ctx, s.key(kind, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrChallengeNotFound
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "challenge store unavailable")
	}

	if err := json.Unmarshal(data, out); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decode challenge record")
	}
	return nil
}

func (s *RedisChallengeStore) Update(ctx context.Context, kind, key string, out any, ttl time.Duration, apply func() error) error {
	const maxRetries = 4
	k := s.key(kind, key)

	for i := 0; i < maxRetries; i++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, k).Bytes()
			if err != nil {
				return err
			}

			if err := json.Unmarshal(data, out); err != nil {
				return err
			}

			if err := apply(); err != nil {
				return err
			}

			updated, err := json.Marshal(out)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, k, updated, ttl)
				return nil
			})
			return err
		}, k)

		if err == redis.TxFailedErr {
			continue
		}
		if errors.Is(err, redis.Nil) {
			return ErrChallengeNotFound
		}
		return err
	}

	return goerrors.New("challenge update contention not resolved", goerrors.CategoryInternal)
}

func (s *RedisChallengeStore) Delete(ctx context.Context, kind, key string) error {
	if err := s.client.Del(ctx, s.key(kind, key)).Err(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "challenge store unavailable")
	}
	return nil
}
