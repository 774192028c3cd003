package service

import (
	"context"
	"sync"
	"time"

	"github.com/rl1809/beat-store/internal/core/domain"
	"github.com/rl1809/beat-store/internal/port"
)

// fakeClock is a movable clock for driving expiry scenarios.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type holdRecord struct {
	holderID   int64
	acquiredAt time.Time
	expiresAt  time.Time
}

// mockStore is an in-memory InventoryStore with the same semantics as the
// MySQL adapter: conditional acquire, expired holds treated as absent,
// holder-busy check scoped by sameClaim. contentionLeft makes the first N
// acquire calls fail with port.ErrContention to exercise retry paths.
type mockStore struct {
	mu      sync.Mutex
	beats   map[int64]domain.Beat
	bundles map[int64]domain.Bundle
	holds   map[int64]holdRecord
	orders  []domain.Order

	contentionLeft int
	acquireCalls   int
}

func newMockStore() *mockStore {
	return &mockStore{
		beats:   make(map[int64]domain.Beat),
		bundles: make(map[int64]domain.Bundle),
		holds:   make(map[int64]holdRecord),
	}
}

func (m *mockStore) addBeat(b domain.Beat) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beats[b.ID] = b
}

func (m *mockStore) addBundle(bd domain.Bundle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bundles[bd.ID] = bd
	for _, b := range bd.Beats {
		m.beats[b.ID] = b
	}
}

func (m *mockStore) holdCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.holds)
}

func (m *mockStore) GetBeat(_ context.Context, beatID int64) (*domain.Beat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.beats[beatID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (m *mockStore) GetBundle(_ context.Context, bundleID int64) (*domain.Bundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bd, ok := m.bundles[bundleID]
	if !ok {
		return nil, nil
	}
	return &bd, nil
}

func (m *mockStore) AcquireHold(_ context.Context, beatID, holderID int64, sameClaim []int64, now, expiresAt time.Time) (domain.AcquireOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.acquireCalls++
	if m.contentionLeft > 0 {
		m.contentionLeft--
		return 0, port.ErrContention
	}

	for id, h := range m.holds {
		if h.holderID != holderID || !h.expiresAt.After(now) {
			continue
		}
		if !inClaim(sameClaim, id) {
			return domain.AcquireHolderBusy, nil
		}
	}

	beat, ok := m.beats[beatID]
	if !ok || !beat.Exclusive {
		return domain.AcquireHeldByOther, nil
	}

	if h, ok := m.holds[beatID]; ok && h.expiresAt.After(now) {
		if h.holderID != holderID {
			return domain.AcquireHeldByOther, nil
		}
		m.holds[beatID] = holdRecord{holderID: holderID, acquiredAt: h.acquiredAt, expiresAt: expiresAt}
		return domain.AcquireRenewed, nil
	}

	m.holds[beatID] = holdRecord{holderID: holderID, acquiredAt: now, expiresAt: expiresAt}
	return domain.AcquireGranted, nil
}

func (m *mockStore) ReleaseHold(_ context.Context, beatID, holderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[beatID]
	if !ok {
		return nil
	}
	if holderID != 0 && h.holderID != holderID {
		return nil
	}
	delete(m.holds, beatID)
	return nil
}

func (m *mockStore) ActiveHold(_ context.Context, holderID int64, now time.Time) (*domain.Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, h := range m.holds {
		if h.holderID == holderID && h.expiresAt.After(now) {
			return &domain.Hold{BeatID: id, HolderID: h.holderID, AcquiredAt: h.acquiredAt, ExpiresAt: h.expiresAt}, nil
		}
	}
	return nil, nil
}

func (m *mockStore) HoldOn(_ context.Context, beatID int64, now time.Time) (*domain.Hold, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holds[beatID]
	if !ok || !h.expiresAt.After(now) {
		return nil, nil
	}
	return &domain.Hold{BeatID: beatID, HolderID: h.holderID, AcquiredAt: h.acquiredAt, ExpiresAt: h.expiresAt}, nil
}

func (m *mockStore) ReleaseExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, h := range m.holds {
		if !h.expiresAt.After(now) {
			delete(m.holds, id)
			n++
		}
	}
	return n, nil
}

func (m *mockStore) HasCompletedOrder(_ context.Context, beatID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.BeatID == beatID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) BundleOrderedSince(_ context.Context, bundleID int64, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.BundleID == bundleID && !o.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) RecentBundleOrder(_ context.Context, beatID int64, since time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.BundleID == 0 || o.CreatedAt.Before(since) {
			continue
		}
		bd, ok := m.bundles[o.BundleID]
		if !ok || !bd.Active {
			continue
		}
		for _, b := range bd.Beats {
			if b.ID == beatID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (m *mockStore) CreateOrder(_ context.Context, order domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.TransactionID == order.TransactionID {
			return port.ErrOrderExists
		}
	}
	m.orders = append(m.orders, order)
	return nil
}

func inClaim(claim []int64, id int64) bool {
	for _, v := range claim {
		if v == id {
			return true
		}
	}
	return false
}

func exclusiveBeat(id int64) domain.Beat {
	return domain.Beat{ID: id, Title: "beat", Genre: "trap", Mood: "dark", Price: 299, Exclusive: true}
}
