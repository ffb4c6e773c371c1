package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"pulse/internal/core/contracts"
	"pulse/internal/core/domain"
	"sort"
	"sync"
	"time"
)

var errStoreDown = errors.New("store unavailable")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory stand-in for every TTL-store port. TTLs are
// recorded but never expire on their own.
type memStore struct {
	mu       sync.Mutex
	fail     bool
	conns    map[string]string
	counters map[string]int64
	ttls     map[string]time.Duration
	schedule map[string]time.Time
	locks    map[string]bool
	windows  map[string]int64
}

func newMemStore() *memStore {
	return &memStore{
		conns:    map[string]string{},
		counters: map[string]int64{},
		ttls:     map[string]time.Duration{},
		schedule: map[string]time.Time{},
		locks:    map[string]bool{},
		windows:  map[string]int64{},
	}
}

func (m *memStore) setFail(v bool) {
	m.mu.Lock()
	m.fail = v
	m.mu.Unlock()
}

func (m *memStore) BindConnection(_ context.Context, connID, accountID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errStoreDown
	}
	m.conns[connID] = accountID
	m.ttls["conn:"+connID] = ttl
	return nil
}

func (m *memStore) ResolveConnection(_ context.Context, connID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return "", errStoreDown
	}
	return m.conns[connID], nil
}

func (m *memStore) UnbindConnection(_ context.Context, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errStoreDown
	}
	delete(m.conns, connID)
	return nil
}

func (m *memStore) IncrementOnline(_ context.Context, accountID string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errStoreDown
	}
	m.counters[accountID]++
	m.ttls["online:"+accountID] = ttl
	return m.counters[accountID], nil
}

func (m *memStore) DecrementOnline(_ context.Context, accountID string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errStoreDown
	}
	n := m.counters[accountID] - 1
	if n < 0 {
		n = 0
	}
	m.counters[accountID] = n
	m.ttls["online:"+accountID] = ttl
	return n, nil
}

func (m *memStore) EnsureOnline(_ context.Context, accountID string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errStoreDown
	}
	if m.counters[accountID] <= 0 {
		m.counters[accountID] = 1
	}
	m.ttls["online:"+accountID] = ttl
	return m.counters[accountID], nil
}

func (m *memStore) OnlineCount(_ context.Context, accountID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errStoreDown
	}
	return m.counters[accountID], nil
}

func (m *memStore) OnlineCounts(_ context.Context, accountIDs []string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errStoreDown
	}
	out := make(map[string]int64, len(accountIDs))
	for _, id := range accountIDs {
		out[id] = m.counters[id]
	}
	return out, nil
}

func (m *memStore) Schedule(_ context.Context, accountID string, dueAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errStoreDown
	}
	m.schedule[accountID] = dueAt
	return nil
}

func (m *memStore) Cancel(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errStoreDown
	}
	delete(m.schedule, accountID)
	return nil
}

func (m *memStore) Due(_ context.Context, now time.Time, limit int) ([]contracts.DueCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errStoreDown
	}
	var due []string
	for id, at := range m.schedule {
		if at.Unix() <= now.Unix() {
			due = append(due, id)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := m.schedule[due[i]], m.schedule[due[j]]
		if a.Equal(b) {
			return due[i] < due[j]
		}
		return a.Before(b)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]contracts.DueCandidate, len(due))
	for i, id := range due {
		out[i] = contracts.DueCandidate{Member: id, DueAt: m.schedule[id]}
	}
	return out, nil
}

func (m *memStore) DueAt(_ context.Context, accountID string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return time.Time{}, false, errStoreDown
	}
	at, ok := m.schedule[accountID]
	return at, ok, nil
}

func (m *memStore) Remove(_ context.Context, candidates ...contracts.DueCandidate) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errStoreDown
	}
	removed := 0
	for _, c := range candidates {
		if at, ok := m.schedule[c.Member]; ok && at.Unix() == c.DueAt.Unix() {
			delete(m.schedule, c.Member)
			removed++
		}
	}
	return removed, nil
}

func (m *memStore) TryAcquireLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return false, errStoreDown
	}
	if m.locks[key] {
		return false, nil
	}
	m.locks[key] = true
	return true, nil
}

func (m *memStore) IncrementWindow(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errStoreDown
	}
	m.windows[key]++
	if m.windows[key] == 1 {
		m.ttls[key] = ttl
	}
	return m.windows[key], nil
}

func (m *memStore) WindowTTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errStoreDown
	}
	return m.ttls[key], nil
}

func (m *memStore) count(accountID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[accountID]
}

func (m *memStore) dueAt(accountID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.schedule[accountID]
	return at, ok
}

// fakeAccounts is an in-memory AccountRepository.
type fakeAccounts struct {
	mu          sync.Mutex
	states      map[string]domain.AccountState
	contacts    map[string]map[string]bool // owner -> contacts
	audience    map[string][]string
	updated     []string
	updateCalls int
	failUpdate  bool
	failStates  bool
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{
		states:   map[string]domain.AccountState{},
		contacts: map[string]map[string]bool{},
		audience: map[string][]string{},
	}
}

func (f *fakeAccounts) add(id string, v domain.Visibility, lastOnline *time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[id] = domain.AccountState{AccountID: id, Visibility: v, LastOnlineAt: lastOnline}
}

func (f *fakeAccounts) addContact(owner, contact string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.contacts[owner] == nil {
		f.contacts[owner] = map[string]bool{}
	}
	f.contacts[owner][contact] = true
}

func (f *fakeAccounts) GetSnapshotAccountStates(_ context.Context, ids []string) ([]domain.AccountState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStates {
		return nil, errStoreDown
	}
	var out []domain.AccountState
	for _, id := range ids {
		if st, ok := f.states[id]; ok {
			out = append(out, st)
		}
	}
	return out, nil
}

func (f *fakeAccounts) GetContactTargetIds(_ context.Context, viewerID string, candidateIDs []string) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]struct{}{}
	for _, id := range candidateIDs {
		if f.contacts[id][viewerID] {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (f *fakeAccounts) GetAudienceAccountIds(_ context.Context, accountID string) (map[string]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]struct{}{}
	for _, id := range f.audience[accountID] {
		out[id] = struct{}{}
	}
	return out, nil
}

func (f *fakeAccounts) UpdateLastOnlineAt(_ context.Context, ids []string, at time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.failUpdate {
		return nil, errStoreDown
	}
	var out []string
	for _, id := range ids {
		st, ok := f.states[id]
		if !ok {
			continue
		}
		t := at
		st.LastOnlineAt = &t
		f.states[id] = st
		out = append(out, id)
		f.updated = append(f.updated, id)
	}
	return out, nil
}

func (f *fakeAccounts) GetOnlineStatusVisibility(_ context.Context, accountID string) (*domain.Visibility, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[accountID]
	if !ok {
		return nil, nil
	}
	v := st.Visibility
	return &v, nil
}

type notification struct {
	audience []string
	event    string
	payload  any
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
	fail map[string]bool // event audience containing this id fails
}

func (n *fakeNotifier) Notify(_ context.Context, audience []string, event string, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if ev, ok := payload.(domain.PresenceEvent); ok && n.fail[ev.AccountID] {
		return errors.New("transport down")
	}
	n.sent = append(n.sent, notification{audience: audience, event: event, payload: payload})
	return nil
}

func (n *fakeNotifier) events(event string) []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notification
	for _, s := range n.sent {
		if s.event == event {
			out = append(out, s)
		}
	}
	return out
}
