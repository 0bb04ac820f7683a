package diagstore

import (
	"context"
	"sync"
	"time"
)

// Memory keeps payloads in process. Used by tests and dry runs.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Driver() Driver { return DriverMemory }

func (m *Memory) Put(ctx context.Context, data []byte, _ PutOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref := "memory://" + newKey(time.Now())
	cp := append([]byte(nil), data...)
	m.mu.Lock()
	m.objects[ref] = cp
	m.mu.Unlock()
	return ref, nil
}

// Get returns a stored payload by reference.
func (m *Memory) Get(ref string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[ref]
	return b, ok
}

// Len reports how many payloads are stored.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
