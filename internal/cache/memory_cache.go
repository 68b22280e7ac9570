package cache

import (
	"sort"
	"sync"
)

// MemoryProvider keeps named stores in process memory. Nothing survives a restart.
type MemoryProvider struct {
	mutex  sync.RWMutex
	stores map[string]*memoryStore
	order  []string
}

func NewMemory() *MemoryProvider {
	return &MemoryProvider{
		stores: make(map[string]*memoryStore),
	}
}

func (m *MemoryProvider) Init() error {
	return nil
}

func (m *MemoryProvider) Open(name string) (Store, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	s, ok := m.stores[name]
	if !ok {
		s = &memoryStore{entries: make(map[string][]byte)}
		m.stores[name] = s
		m.order = append(m.order, name)
	}
	return s, nil
}

func (m *MemoryProvider) Lookup(name string) (Store, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	s, ok := m.stores[name]
	if !ok {
		return nil, nil
	}
	return s, nil
}

func (m *MemoryProvider) Has(name string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.stores[name]
	return ok, nil
}

// Names lists stores in creation order
func (m *MemoryProvider) Names() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return append([]string(nil), m.order...), nil
}

func (m *MemoryProvider) Delete(name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.stores[name]; !ok {
		return false, nil
	}
	delete(m.stores, name)
	for i, n := range m.order {
		if n == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *MemoryProvider) Close() error {
	return nil
}

type memoryStore struct {
	mutex   sync.RWMutex
	entries map[string][]byte
}

func (s *memoryStore) Get(key string) ([]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	v, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (s *memoryStore) Set(key string, value []byte) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.entries[key] = append([]byte(nil), value...)
	return nil
}

func (s *memoryStore) Keys() ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
