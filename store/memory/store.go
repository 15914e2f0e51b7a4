// Package memory provides an in-memory implementation of store.Store.
//
// It is used in tests and single-process deployments. Eval returns
// ErrScriptNotSupported; the algorithm primitives detect that and run
// their plain-command paths, which this store serializes under one lock.
//
//	s := memory.New()
//	defer s.Close()
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/limitforge/limitforge/store"
)

// Store implements store.Store with in-memory state.
// All operations are thread-safe.
type Store struct {
	mu      sync.Mutex
	data    map[string]*entry
	closed  bool
	closeCh chan struct{}
}

type entry struct {
	value    string
	hash     map[string]string
	sorted   []zentry
	expireAt time.Time
}

type zentry struct {
	score  float64
	member string
}

// New creates a new in-memory Store.
func New() *Store {
	s := &Store{
		data:    make(map[string]*entry),
		closeCh: make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.closeCh:
			return
		}
	}
}

func (s *Store) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for k, e := range s.data {
		if !e.expireAt.IsZero() && now.After(e.expireAt) {
			delete(s.data, k)
		}
	}
}

// live returns the entry for key, treating expired entries as absent.
// Caller must hold s.mu.
func (s *Store) live(key string) (*entry, bool) {
	e, ok := s.data[key]
	if !ok {
		return nil, false
	}
	if !e.expireAt.IsZero() && time.Now().After(e.expireAt) {
		delete(s.data, key)
		return nil, false
	}
	return e, true
}

func (s *Store) Eval(_ context.Context, _ string, _ []string, _ ...interface{}) (interface{}, error) {
	return nil, &store.ErrScriptNotSupported{}
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return "", &store.ErrKeyNotFound{Key: key}
	}
	return e.value, nil
}

func (s *Store) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{value: value}
	if ttl > 0 {
		e.expireAt = time.Now().Add(ttl)
	}
	s.data[key] = e
	return nil
}

func (s *Store) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

func (s *Store) IncrBy(_ context.Context, key string, n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		s.data[key] = &entry{value: strconv.FormatInt(n, 10)}
		return n, nil
	}

	current, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		return 0, err
	}
	current += n
	e.value = strconv.FormatInt(current, 10)
	return current, nil
}

func (s *Store) DecrBy(ctx context.Context, key string, n int64) (int64, error) {
	return s.IncrBy(ctx, key, -n)
}

func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return nil
	}
	e.expireAt = time.Now().Add(ttl)
	return nil
}

func (s *Store) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return -2 * time.Second, nil
	}
	if e.expireAt.IsZero() {
		return -1 * time.Second, nil
	}
	return time.Until(e.expireAt), nil
}

func (s *Store) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[string]string{}
	e, ok := s.live(key)
	if !ok {
		return out, nil
	}
	for f, v := range e.hash {
		out[f] = v
	}
	return out, nil
}

func (s *Store) HSet(_ context.Context, key string, values ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		e = &entry{}
		s.data[key] = e
	}
	if e.hash == nil {
		e.hash = make(map[string]string)
	}
	for i := 0; i+1 < len(values); i += 2 {
		field, _ := values[i].(string)
		switch v := values[i+1].(type) {
		case string:
			e.hash[field] = v
		case int64:
			e.hash[field] = strconv.FormatInt(v, 10)
		case float64:
			e.hash[field] = strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return nil
}

func (s *Store) ZAdd(_ context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zadd(key, score, member)
	return nil
}

func (s *Store) zadd(key string, score float64, member string) {
	e, ok := s.live(key)
	if !ok {
		e = &entry{}
		s.data[key] = e
	}
	for i, z := range e.sorted {
		if z.member == member {
			e.sorted = append(e.sorted[:i], e.sorted[i+1:]...)
			break
		}
	}
	e.sorted = append(e.sorted, zentry{score: score, member: member})
	sort.Slice(e.sorted, func(i, j int) bool {
		return e.sorted[i].score < e.sorted[j].score
	})
}

func (s *Store) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return 0, nil
	}
	return int64(len(e.sorted)), nil
}

func (s *Store) ZRemRangeByScore(_ context.Context, key, min, max string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return nil
	}

	minF := parseScore(min, false)
	maxF := parseScore(max, true)

	filtered := e.sorted[:0]
	for _, z := range e.sorted {
		if z.score < minF || z.score > maxF {
			filtered = append(filtered, z)
		}
	}
	e.sorted = filtered
	return nil
}

func parseScore(s string, max bool) float64 {
	switch s {
	case "-inf":
		return -1e308
	case "+inf":
		return 1e308
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if max {
			return 1e308
		}
		return -1e308
	}
	return f
}

func (s *Store) ZRangeWithScores(_ context.Context, key string, start, stop int64) ([]store.ZEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return nil, nil
	}

	n := int64(len(e.sorted))
	if n == 0 {
		return nil, nil
	}
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return nil, nil
	}

	result := make([]store.ZEntry, 0, stop-start+1)
	for i := start; i <= stop; i++ {
		result = append(result, store.ZEntry{
			Score:  e.sorted[i].score,
			Member: e.sorted[i].member,
		})
	}
	return result, nil
}

func (s *Store) Pipeline() store.Pipeline {
	return &memoryPipeline{store: s}
}

func (s *Store) Ping(_ context.Context) error {
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.closeCh)
	}
	return nil
}

// ─── Pipeline ────────────────────────────────────────────────────────────────

type memoryPipeline struct {
	store *Store
	ops   []func()
}

func (p *memoryPipeline) ZAdd(_ context.Context, key string, score float64, member string) {
	p.ops = append(p.ops, func() {
		p.store.zadd(key, score, member)
	})
}

func (p *memoryPipeline) Expire(_ context.Context, key string, ttl time.Duration) {
	p.ops = append(p.ops, func() {
		if e, ok := p.store.live(key); ok {
			e.expireAt = time.Now().Add(ttl)
		}
	})
}

// Exec applies the batched operations under a single lock, so the batch
// is atomic relative to other callers of the same store.
func (p *memoryPipeline) Exec(_ context.Context) error {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	for _, op := range p.ops {
		op()
	}
	p.ops = nil
	return nil
}
