// Package memory is an in-process db.Store for single-node runs and tests.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kailas-cloud/tenderlens/internal/db"
)

var _ db.Store = (*Store)(nil)

type entry struct {
	value   []byte
	expires time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// Store keeps values in a sync.Map. Expired entries are dropped lazily on read.
type Store struct {
	data   sync.Map
	closed atomic.Bool
	now    func() time.Time
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

func (s *Store) Ping(context.Context) error {
	if s.closed.Load() {
		return &db.Error{Op: db.OpPing, Err: db.ErrClosed}
	}
	return nil
}

func (s *Store) Close() { s.closed.Store(true) }

func (s *Store) WaitForReady(ctx context.Context, _ time.Duration) error {
	return s.Ping(ctx)
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	if s.closed.Load() {
		return nil, &db.Error{Op: db.OpGet, Err: db.ErrClosed}
	}
	v, ok := s.data.Load(key)
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	e := v.(entry)
	if e.expired(s.now()) {
		s.data.CompareAndDelete(key, v)
		return nil, db.ErrKeyNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	return s.SetWithTTL(ctx, key, value, 0)
}

func (s *Store) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if s.closed.Load() {
		return &db.Error{Op: db.OpSet, Err: db.ErrClosed}
	}
	s.data.Store(key, s.entry(value, ttl))
	return nil
}

func (s *Store) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if s.closed.Load() {
		return false, &db.Error{Op: db.OpSet, Err: db.ErrClosed}
	}
	e := s.entry(value, ttl)
	for {
		prev, loaded := s.data.LoadOrStore(key, e)
		if !loaded {
			return true, nil
		}
		if !prev.(entry).expired(s.now()) {
			return false, nil
		}
		s.data.CompareAndDelete(key, prev)
	}
}

func (s *Store) entry(value []byte, ttl time.Duration) entry {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	return e
}
