package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nickelnine37/sportfolios-server/pkg/types"
)

// Memory is an in-process Store used by tests and local development. Values
// round-trip through JSON so callers get the same copy semantics as Redis.
type Memory struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	pending map[string]memoryPending
	queue   map[string]int64

	minute      int64
	maxInterval int64
}

type memoryPending struct {
	payload   []byte
	expiresAt time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		blobs:   make(map[string][]byte),
		pending: make(map[string]memoryPending),
		queue:   make(map[string]int64),
	}
}

func (m *Memory) Exists(_ context.Context, market string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[market]
	return ok, nil
}

func (m *Memory) Snapshot(_ context.Context, market string) (*types.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(market)
}

func (m *Memory) snapshotLocked(market string) (*types.Snapshot, error) {
	raw, ok := m.blobs[market]
	if !ok {
		return nil, fmt.Errorf("%w: market %s", ErrNotFound, market)
	}
	var snap types.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", market, err)
	}
	return &snap, nil
}

func (m *Memory) Snapshots(_ context.Context, markets []string) ([]*types.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*types.Snapshot, len(markets))
	for i, market := range markets {
		snap, err := m.snapshotLocked(market)
		if err != nil {
			continue
		}
		out[i] = snap
	}
	return out, nil
}

func (m *Memory) History(_ context.Context, market string) (*types.History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.historyLocked(market)
}

func (m *Memory) historyLocked(market string) (*types.History, error) {
	raw, ok := m.blobs[histKey(market)]
	if !ok {
		return nil, fmt.Errorf("%w: history %s", ErrNotFound, market)
	}
	var hist types.History
	if err := json.Unmarshal(raw, &hist); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", market, err)
	}
	return &hist, nil
}

func (m *Memory) Histories(_ context.Context, markets []string) ([]*types.History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*types.History, len(markets))
	for i, market := range markets {
		hist, err := m.historyLocked(market)
		if err != nil {
			continue
		}
		out[i] = hist
	}
	return out, nil
}

func (m *Memory) TimeLog(_ context.Context) (types.TimeLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, ok := m.blobs[timeKey]
	if !ok {
		return nil, fmt.Errorf("%w: time log", ErrNotFound)
	}
	var tl types.TimeLog
	if err := json.Unmarshal(raw, &tl); err != nil {
		return nil, fmt.Errorf("decode time log: %w", err)
	}
	return tl, nil
}

func (m *Memory) PutSnapshots(_ context.Context, snaps map[string]*types.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for market, snap := range snaps {
		buf, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("encode snapshot %s: %w", market, err)
		}
		m.blobs[market] = buf
	}
	return nil
}

func (m *Memory) PutHistories(_ context.Context, hists map[string]*types.History) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for market, hist := range hists {
		buf, err := json.Marshal(hist)
		if err != nil {
			return fmt.Errorf("encode history %s: %w", market, err)
		}
		m.blobs[histKey(market)] = buf
	}
	return nil
}

func (m *Memory) PutTimeLog(_ context.Context, tl types.TimeLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf, err := json.Marshal(tl)
	if err != nil {
		return fmt.Errorf("encode time log: %w", err)
	}
	m.blobs[timeKey] = buf
	return nil
}

func (m *Memory) UpdateSnapshot(_ context.Context, market string, attempts int, apply func(*types.Snapshot) error) (*types.Snapshot, error) {
	if attempts <= 0 {
		return nil, fmt.Errorf("%w: market %s after 0 attempts", ErrConflict, market)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snap, err := m.snapshotLocked(market)
	if err != nil {
		return nil, err
	}
	if err := apply(snap); err != nil {
		return nil, err
	}
	buf, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot %s: %w", market, err)
	}
	m.blobs[market] = buf
	return snap, nil
}

func (m *Memory) SetPending(_ context.Context, id string, payload []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending[id] = memoryPending{
		payload:   append([]byte(nil), payload...),
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (m *Memory) TakePending(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.pending[id]
	if !ok {
		return nil, fmt.Errorf("%w: pending %s", ErrNotFound, id)
	}
	delete(m.pending, id)
	if time.Now().After(rec.expiresAt) {
		return nil, fmt.Errorf("%w: pending %s", ErrNotFound, id)
	}
	return rec.payload, nil
}

func (m *Memory) Minute(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.minute, nil
}

func (m *Memory) SetMinute(_ context.Context, t int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minute = t
	return nil
}

func (m *Memory) MaxInterval(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxInterval == 0 {
		return DefaultMaxInterval, nil
	}
	return m.maxInterval, nil
}

func (m *Memory) SetMaxInterval(_ context.Context, minutes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxInterval = minutes
	return nil
}

func (m *Memory) EnqueueUndo(_ context.Context, id string, payload []byte, fireAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blobs[undoJobKey(id)] = append([]byte(nil), payload...)
	m.queue[id] = fireAt.Unix()
	return nil
}

func (m *Memory) DueUndos(_ context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := now.Unix()
	var ids []string
	for id, fireAt := range m.queue {
		if fireAt <= cutoff {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		if m.queue[ids[i]] != m.queue[ids[j]] {
			return m.queue[ids[i]] < m.queue[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids, nil
}

func (m *Memory) ClaimUndo(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queue[id]; !ok {
		return nil, fmt.Errorf("%w: undo job %s", ErrNotFound, id)
	}
	delete(m.queue, id)

	raw, ok := m.blobs[undoJobKey(id)]
	if !ok {
		return nil, fmt.Errorf("%w: undo payload %s", ErrNotFound, id)
	}
	delete(m.blobs, undoJobKey(id))
	return raw, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
