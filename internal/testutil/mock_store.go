package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/developingchet/maintenance-gate/internal/storage"
)

// MockStore implements storage.Store with in-memory state for testing.
// All methods are safe for concurrent use.
type MockStore struct {
	mu      sync.Mutex
	flag    *storage.FlagRecord
	allowed map[string]struct{}

	// Error injection: method -> next error (consumed on first call)
	errors map[string]error
	// Sticky errors: method -> error returned on every call until cleared
	sticky map[string]error

	calls map[string]int
}

// NewMockStore returns a zero-state MockStore ready for use.
func NewMockStore() *MockStore {
	return &MockStore{
		allowed: make(map[string]struct{}),
		errors:  make(map[string]error),
		sticky:  make(map[string]error),
		calls:   make(map[string]int),
	}
}

// SetError injects an error to be returned on the next call to the named method.
func (m *MockStore) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

// FailAlways makes every call to the named method return err. A nil err clears it.
func (m *MockStore) FailAlways(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.sticky, method)
		return
	}
	m.sticky[method] = err
}

// Calls returns how many times the named method has been invoked.
func (m *MockStore) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// enter records the call and returns any injected error. Callers hold m.mu.
func (m *MockStore) enter(method string) error {
	m.calls[method]++
	if err, ok := m.sticky[method]; ok {
		return err
	}
	err := m.errors[method]
	delete(m.errors, method)
	return err
}

// --- Flag -------------------------------------------------------------------

func (m *MockStore) GetFlag(_ context.Context) (storage.FlagRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetFlag"); err != nil {
		return storage.FlagRecord{}, false, err
	}
	if m.flag == nil {
		return storage.FlagRecord{}, false, nil
	}
	return *m.flag, true, nil
}

func (m *MockStore) SetFlag(_ context.Context, rec storage.FlagRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SetFlag"); err != nil {
		return err
	}
	m.flag = &rec
	return nil
}

func (m *MockStore) DeleteFlag(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteFlag"); err != nil {
		return err
	}
	m.flag = nil
	return nil
}

// HasFlag reports whether a flag record is currently held, bypassing error injection.
func (m *MockStore) HasFlag() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flag != nil
}

// --- Allow list -------------------------------------------------------------

func (m *MockStore) PutAllowed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("PutAllowed"); err != nil {
		return err
	}
	m.allowed[id] = struct{}{}
	return nil
}

func (m *MockStore) DeleteAllowed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("DeleteAllowed"); err != nil {
		return err
	}
	delete(m.allowed, id)
	return nil
}

func (m *MockStore) ListAllowed(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ListAllowed"); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(m.allowed))
	for id := range m.allowed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MockStore) HasAllowed(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("HasAllowed"); err != nil {
		return false, err
	}
	_, ok := m.allowed[id]
	return ok, nil
}

// --- Utility ----------------------------------------------------------------

func (m *MockStore) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enter("Ping")
}

func (m *MockStore) Close() error { return nil }

// Compile-time interface check.
var _ storage.Store = (*MockStore)(nil)
