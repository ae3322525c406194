package kv

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// entry mirrors the teacher's CacheEntry{Value, Expiration} pairing, generalized to byte payloads
// plus the richer structures (lists/hashes/sets/streams) this domain's KV contract requires.
type entry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && now.After(e.expires)
}

// MemStore is an in-memory Store used by tests and local development, grounded on
// infrastructure/cache's background-cleanup TTL cache.
type MemStore struct {
	mu      sync.RWMutex
	strings map[string]entry
	lists   map[string][]string
	hashes  map[string]map[string]string
	sets    map[string]map[string]bool
	streams map[string][]StreamEntry
	started time.Time
	seq     int64

	stopCleanup func()
}

// NewMemStore builds an empty in-memory store and starts its background expiry sweep.
func NewMemStore() *MemStore {
	m := &MemStore{
		strings: make(map[string]entry),
		lists:   make(map[string][]string),
		hashes:  make(map[string]map[string]string),
		sets:    make(map[string]map[string]bool),
		streams: make(map[string][]StreamEntry),
		started: time.Now(),
	}
	stop := make(chan struct{})
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-ticker.C:
				m.sweep()
			case <-stop:
				ticker.Stop()
				return
			}
		}
	}()
	m.stopCleanup = func() { close(stop) }
	return m
}

func (m *MemStore) sweep() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.strings {
		if v.expired(now) {
			delete(m.strings, k)
		}
	}
}

func encode(value interface{}) ([]byte, error) {
	if s, ok := value.(string); ok {
		return []byte(s), nil
	}
	if b, ok := value.([]byte); ok {
		return b, nil
	}
	return json.Marshal(value)
}

func (m *MemStore) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	b, err := encode(value)
	if err != nil {
		return err
	}
	e := entry{value: b}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	m.mu.Lock()
	m.strings[key] = e
	m.mu.Unlock()
	return nil
}

func (m *MemStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.strings[key]
	m.mu.RUnlock()
	if !ok || e.expired(time.Now()) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *MemStore) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	b, ok, err := m.Get(ctx, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(b, dest); err != nil {
		return true, err
	}
	return true, nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.strings, key)
	delete(m.lists, key)
	delete(m.hashes, key)
	delete(m.sets, key)
	delete(m.streams, key)
	m.mu.Unlock()
	return nil
}

func (m *MemStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	e, ok := m.strings[key]
	m.mu.RUnlock()
	return ok && !e.expired(time.Now()), nil
}

func (m *MemStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.strings[key]
	if !ok {
		return nil
	}
	e.expires = time.Now().Add(ttl)
	m.strings[key] = e
	return nil
}

func (m *MemStore) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.strings[key]
	if !ok || e.expires.IsZero() {
		return 0, nil
	}
	d := time.Until(e.expires)
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

func (m *MemStore) incrBy(key string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cur int64
	if e, ok := m.strings[key]; ok && !e.expired(time.Now()) {
		cur, _ = strconv.ParseInt(string(e.value), 10, 64)
	}
	cur += delta
	m.strings[key] = entry{value: []byte(strconv.FormatInt(cur, 10))}
	return cur, nil
}

func (m *MemStore) Incr(_ context.Context, key string) (int64, error) { return m.incrBy(key, 1) }
func (m *MemStore) Decr(_ context.Context, key string) (int64, error) { return m.incrBy(key, -1) }

func (m *MemStore) LPush(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rev := make([]string, len(values))
	for i, v := range values {
		rev[len(values)-1-i] = v
	}
	m.lists[key] = append(rev, m.lists[key]...)
	return nil
}

func (m *MemStore) RPop(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	if len(l) == 0 {
		return "", false, nil
	}
	v := l[len(l)-1]
	m.lists[key] = l[:len(l)-1]
	return v, true, nil
}

func normRange(n int, start, stop int64) (int, int) {
	if stop < 0 || int(stop) >= n {
		stop = int64(n - 1)
	}
	if start < 0 {
		start = 0
	}
	if int(start) > n-1 || start > stop {
		return 0, -1
	}
	return int(start), int(stop)
}

func (m *MemStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l := m.lists[key]
	s, e := normRange(len(l), start, stop)
	if e < s {
		return []string{}, nil
	}
	out := make([]string, e-s+1)
	copy(out, l[s:e+1])
	return out, nil
}

func (m *MemStore) LTrim(_ context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.lists[key]
	s, e := normRange(len(l), start, stop)
	if e < s {
		m.lists[key] = nil
		return nil
	}
	m.lists[key] = append([]string{}, l[s:e+1]...)
	return nil
}

func (m *MemStore) HSet(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (m *MemStore) HGet(_ context.Context, key, field string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.hashes[key][field]
	return v, ok, nil
}

func (m *MemStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *MemStore) HDel(_ context.Context, key string, fields ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.hashes[key]
	for _, f := range fields {
		delete(h, f)
	}
	return nil
}

func (m *MemStore) SAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]bool)
		m.sets[key] = s
	}
	for _, mem := range members {
		s[mem] = true
	}
	return nil
}

func (m *MemStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.sets[key]))
	for k := range m.sets[key] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemStore) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix, _, _ := strings.Cut(pattern, "*")
	var out []string
	for k := range m.strings {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemStore) FlushDB(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strings = make(map[string]entry)
	m.lists = make(map[string][]string)
	m.hashes = make(map[string]map[string]string)
	m.sets = make(map[string]map[string]bool)
	m.streams = make(map[string][]StreamEntry)
	return nil
}

func (m *MemStore) XAdd(_ context.Context, stream string, maxLen int64, values map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := strconv.FormatInt(time.Now().UnixNano(), 10) + "-" + strconv.FormatInt(m.seq, 10)
	m.streams[stream] = append(m.streams[stream], StreamEntry{ID: id, Values: values})
	if maxLen > 0 && int64(len(m.streams[stream])) > maxLen {
		m.streams[stream] = m.streams[stream][int64(len(m.streams[stream]))-maxLen:]
	}
	return id, nil
}

func (m *MemStore) XRange(_ context.Context, stream string, count int64) ([]StreamEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.streams[stream]
	if count <= 0 || count > int64(len(entries)) {
		count = int64(len(entries))
	}
	out := make([]StreamEntry, count)
	copy(out, entries[:count])
	return out, nil
}

func (m *MemStore) Health(_ context.Context) HealthStatus {
	return HealthStatus{
		Connected:     true,
		PingLatency:   0,
		ClientCount:   1,
		Version:       "memstore",
		UptimeSeconds: int64(time.Since(m.started).Seconds()),
	}
}

func (m *MemStore) Close() error {
	if m.stopCleanup != nil {
		m.stopCleanup()
	}
	return nil
}
