package registry

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a process-local Store. Ids are random UUIDs so they are
// interchangeable with Postgres-issued ones.
type Memory struct {
	mu      sync.RWMutex
	devices []Device
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

func (m *Memory) List(_ context.Context) ([]Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Device(nil), m.devices...), nil
}

func (m *Memory) Get(_ context.Context, id string) (Device, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Device{}, ErrInvalidID
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.devices {
		if d.ID == id {
			return d, nil
		}
	}
	return Device{}, ErrNotFound
}

func (m *Memory) Create(_ context.Context, in DeviceCreate) (Device, error) {
	p, err := Prepare(in)
	if err != nil {
		return Device{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.devices {
		if strings.EqualFold(d.Address, p.Address) {
			return Device{}, ErrDuplicateAddress
		}
	}
	d := Device{
		ID:        uuid.NewString(),
		Name:      p.Name,
		Address:   p.Address,
		CreatedAt: m.now().UTC(),
	}
	m.devices = append(m.devices, d)
	return d, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range m.devices {
		if d.ID == id {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}
