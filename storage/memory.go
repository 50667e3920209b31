package storage

import (
	"strconv"
	"strings"
	"sync"
)

// Memory is a process-local Storage. Values live until Remove or Clear.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return v, nil
}

func (m *Memory) set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) GetString(key string) (string, error) {
	v, err := m.get(key)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (m *Memory) SetString(key, value string) error {
	return m.set(key, []byte(value))
}

func (m *Memory) GetInt(key string) (int64, error) {
	v, err := m.get(key)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(string(v), 10, 64)
}

func (m *Memory) SetInt(key string, value int64) error {
	return m.set(key, []byte(strconv.FormatInt(value, 10)))
}

func (m *Memory) GetBool(key string) (bool, error) {
	v, err := m.get(key)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(string(v))
}

func (m *Memory) SetBool(key string, value bool) error {
	return m.set(key, []byte(strconv.FormatBool(value)))
}

func (m *Memory) GetObject(key string, out any, decode func([]byte, any) error) error {
	v, err := m.get(key)
	if err != nil {
		return err
	}
	return decode(v, out)
}

func (m *Memory) SetObject(key string, value any, encode func(any) ([]byte, error)) error {
	b, err := encode(value)
	if err != nil {
		return err
	}
	return m.set(key, b)
}

func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) ContainsKey(key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok, nil
}

func (m *Memory) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string][]byte)
	return nil
}
