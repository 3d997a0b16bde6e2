package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"grantledger/internal"
)

// MemoryStore keeps grants in process memory. It backs tests and dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	grants  map[string]internal.Grant
	byName  map[string]string
	entries map[string][]internal.LedgerEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		grants:  map[string]internal.Grant{},
		byName:  map[string]string{},
		entries: map[string][]internal.LedgerEntry{},
	}
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (m *MemoryStore) CreateGrant(_ context.Context, g internal.Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.grants[g.ID]; ok {
		return fmt.Errorf("%w: id %s", ErrDuplicateGrant, g.ID)
	}
	if _, ok := m.byName[nameKey(g.Name)]; ok {
		return fmt.Errorf("%w: name %s", ErrDuplicateGrant, g.Name)
	}
	m.grants[g.ID] = cloneGrant(g)
	m.byName[nameKey(g.Name)] = g.ID
	return nil
}

func (m *MemoryStore) GrantByName(_ context.Context, name string) (internal.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byName[nameKey(name)]
	if !ok {
		return internal.Grant{}, fmt.Errorf("%w: %s", ErrGrantNotFound, name)
	}
	return cloneGrant(m.grants[id]), nil
}

func (m *MemoryStore) GrantByID(_ context.Context, id string) (internal.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.grants[id]
	if !ok {
		return internal.Grant{}, fmt.Errorf("%w: id %s", ErrGrantNotFound, id)
	}
	return cloneGrant(g), nil
}

func (m *MemoryStore) ListGrants(_ context.Context) ([]internal.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]internal.Grant, 0, len(m.grants))
	for _, g := range m.grants {
		out = append(out, cloneGrant(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) UpdateGrant(_ context.Context, name string, fn Mutation) (internal.Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byName[nameKey(name)]
	if !ok {
		return internal.Grant{}, fmt.Errorf("%w: %s", ErrGrantNotFound, name)
	}
	next := cloneGrant(m.grants[id])
	entry, err := fn(&next)
	if err != nil {
		return internal.Grant{}, err
	}
	next.ID = id
	m.grants[id] = next
	if entry != nil {
		entry.GrantID = id
		m.entries[id] = append(m.entries[id], *entry)
	}
	return cloneGrant(next), nil
}

func (m *MemoryStore) DeleteGrant(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.grants[id]
	if !ok {
		return false, nil
	}
	delete(m.grants, id)
	delete(m.byName, nameKey(g.Name))
	delete(m.entries, id)
	return true, nil
}

func (m *MemoryStore) Entries(_ context.Context, grantID string) ([]internal.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]internal.LedgerEntry(nil), m.entries[grantID]...), nil
}

func cloneGrant(g internal.Grant) internal.Grant {
	g.AllowedItems = append([]string(nil), g.AllowedItems...)
	return g
}
