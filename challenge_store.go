package identity

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// ChallengeStore is the ephemeral keyed store shared by the verification
// flows: get/put/delete by (kind, key) with expiry. Records must remain
// readable for a grace period past their code expiry so verification can
// report "expired" rather than "absent"; callers pass a TTL that already
// includes that grace (see storeTTL).
//
// Put replaces any existing record for the key. Update performs a
// read-modify-write that must be atomic per key; it is only used by the
// email-change flow, the one place state accumulates instead of being
// replaced.
type ChallengeStore interface {
	Put(ctx context.Context, kind, key string, record any, ttl time.Duration) error
	Get(ctx context.Context, kind, key string, out any) error
	Update(ctx context.Context, kind, key string, out any, ttl time.Duration, apply func() error) error
	Delete(ctx context.Context, kind, key string) error
}

// storeTTL is the retention for a challenge whose code expires after window:
// double the window, so expired-but-recent codes still resolve to a record.
func storeTTL(window time.Duration) time.Duration {
	return window * 2
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryChallengeStore is a process-local ChallengeStore. Pending operations
// are lost on restart by design; clients restart the flow. Suitable only for
// single-instance deployments; use the Redis store otherwise.
type MemoryChallengeStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

var _ ChallengeStore = (*MemoryChallengeStore)(nil)

func NewMemoryChallengeStore() *MemoryChallengeStore {
	return &MemoryChallengeStore{
		entries: map[string]memoryEntry{},
		now:     time.Now,
	}
}

func challengeKey(kind, key string) string {
	return kind + ":" + key
}

func (s *MemoryChallengeStore) Put(ctx context.Context, kind, key string, record any, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode challenge record")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[challengeKey(kind, key)] = memoryEntry{
		data:      data,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryChallengeStore) Get(ctx context.Context, kind, key string, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(kind, key, out)
}

// get assumes the caller holds the lock.
func (s *MemoryChallengeStore) get(kind, key string, out any) error {
	k := challengeKey(kind, key)
	entry, ok := s.entries[k]
	if !ok {
		return ErrChallengeNotFound
	}

	if s.now().After(entry.expiresAt) {
		delete(s.entries, k)
		return ErrChallengeNotFound
	}

	if err := json.Unmarshal(entry.data, out); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decode challenge record")
	}
	return nil
}

func (s *MemoryChallengeStore) Update(ctx context.Context, kind, key string, out any, ttl time.Duration, apply func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.get(kind, key, out); err != nil {
		return err
	}

	if err := apply(); err != nil {
		return err
	}

	data, err := json.Marshal(out)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode challenge record")
	}

	s.entries[challengeKey(kind, key)] = memoryEntry{
		data:      data,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryChallengeStore) Delete(ctx context.Context, kind, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, challengeKey(kind, key))
	return nil
}
