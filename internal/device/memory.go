package device

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryRepository is a Repository kept entirely in memory. It enforces the
// same uniqueness rules as the SQLite schema and is used when running
// without a database file and in tests of packages built on the registry.
type MemoryRepository struct {
	mu      sync.Mutex
	devices map[string]*Device
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{devices: make(map[string]*Device)}
}

// GetByID implements Repository.
func (m *MemoryRepository) GetByID(_ context.Context, id string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

// List implements Repository.
func (m *MemoryRepository) List(_ context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, *d.DeepCopy())
	}
	slices.SortFunc(out, func(a, b Device) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

// Create implements Repository.
func (m *MemoryRepository) Create(_ context.Context, d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[d.ID]; ok {
		return ErrDeviceExists
	}
	if m.addressTaken(d) {
		return ErrDuplicateAddress
	}
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	m.devices[d.ID] = d.DeepCopy()
	return nil
}

// Update implements Repository.
func (m *MemoryRepository) Update(_ context.Context, d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[d.ID]; !ok {
		return ErrDeviceNotFound
	}
	if m.addressTaken(d) {
		return ErrDuplicateAddress
	}
	d.UpdatedAt = time.Now().UTC()
	m.devices[d.ID] = d.DeepCopy()
	return nil
}

// Delete implements Repository.
func (m *MemoryRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[id]; !ok {
		return ErrDeviceNotFound
	}
	delete(m.devices, id)
	return nil
}

func (m *MemoryRepository) addressTaken(d *Device) bool {
	for id, other := range m.devices {
		if id != d.ID && other.Driver == d.Driver && other.Address == d.Address {
			return true
		}
	}
	return false
}
