package registry

import (
	"context"
	"sync"

	"github.com/bulwark-io/bulwark/pkg/errors"
)

// MemoryRegistry is an in-process InstanceRegistry used in tests and
// single-node deployments without Redis.
type MemoryRegistry struct {
	mutex     sync.Mutex
	instances map[string]Instance
	target    int
	hasTarget bool
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		instances: make(map[string]Instance),
	}
}

func (m *MemoryRegistry) Register(ctx context.Context, instance Instance) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.instances[instance.ID] = instance
	return nil
}

func (m *MemoryRegistry) Deregister(ctx context.Context, instanceID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.instances, instanceID)
	return nil
}

func (m *MemoryRegistry) Heartbeat(ctx context.Context, instanceID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.instances[instanceID]; !ok {
		return errors.NewNotFoundError("instance")
	}
	return nil
}

func (m *MemoryRegistry) ActiveInstanceCount(ctx context.Context) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.instances), nil
}

func (m *MemoryRegistry) ApplyTargetInstanceCount(ctx context.Context, target int) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.target = target
	m.hasTarget = true
	return nil
}

func (m *MemoryRegistry) TargetInstanceCount(ctx context.Context) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if !m.hasTarget {
		return 0, errors.NewNotFoundError("target instance count")
	}
	return m.target, nil
}
