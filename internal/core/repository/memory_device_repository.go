package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gpsrelay/internal/core/model"
)

type InMemoryDeviceRepository struct {
	devices  map[string]*model.Device
	byUnique map[string]string
	mutex    sync.RWMutex
}

func NewInMemoryDeviceRepository() *InMemoryDeviceRepository {
	return &InMemoryDeviceRepository{
		devices:  make(map[string]*model.Device),
		byUnique: make(map[string]string),
	}
}

func (r *InMemoryDeviceRepository) Create(_ context.Context, device *model.Device) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.devices[device.ID]; exists {
		return fmt.Errorf("%w: id %s", ErrDeviceExists, device.ID)
	}
	if _, exists := r.byUnique[device.UniqueID]; exists {
		return fmt.Errorf("%w: uniqueId %s", ErrDeviceExists, device.UniqueID)
	}

	r.devices[device.ID] = device.Clone()
	r.byUnique[device.UniqueID] = device.ID
	return nil
}

func (r *InMemoryDeviceRepository) FindByID(_ context.Context, id string) (*model.Device, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if device, exists := r.devices[id]; exists {
		return device.Clone(), nil
	}
	return nil, ErrDeviceNotFound
}

func (r *InMemoryDeviceRepository) FindByUniqueID(_ context.Context, uniqueID string) (*model.Device, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if id, exists := r.byUnique[uniqueID]; exists {
		return r.devices[id].Clone(), nil
	}
	return nil, ErrDeviceNotFound
}

func (r *InMemoryDeviceRepository) UpdateLatestPosition(_ context.Context, position *model.Position) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	device, exists := r.devices[position.DeviceID]
	if !exists {
		return ErrDeviceNotFound
	}
	device.PositionID = position.ID
	device.LastUpdate = position.FixTime
	device.Status = model.StatusActive
	return nil
}

func (r *InMemoryDeviceRepository) UpdateReportStatus(_ context.Context, uniqueID string, status model.ReportStatus) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	id, exists := r.byUnique[uniqueID]
	if !exists {
		return ErrDeviceNotFound
	}
	r.devices[id].Report = &status
	return nil
}

func (r *InMemoryDeviceRepository) ClearActive(_ context.Context, deviceID string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	device, exists := r.devices[deviceID]
	if !exists {
		return ErrDeviceNotFound
	}
	device.Status = model.StatusInactive
	device.LastUpdate = time.Now().UTC()
	return nil
}

// TestDeviceRepository registers test devices on first contact. It backs
// TEST_MODE, where no device registry is available.
type TestDeviceRepository struct {
	*InMemoryDeviceRepository
}

func NewTestDeviceRepository() *TestDeviceRepository {
	return &TestDeviceRepository{InMemoryDeviceRepository: NewInMemoryDeviceRepository()}
}

func (r *TestDeviceRepository) FindByUniqueID(ctx context.Context, uniqueID string) (*model.Device, error) {
	device, err := r.InMemoryDeviceRepository.FindByUniqueID(ctx, uniqueID)
	if !errors.Is(err, ErrDeviceNotFound) {
		return device, err
	}

	device = model.NewTestDevice(uniqueID)
	if !device.IsTestDevice() {
		return nil, err
	}
	if err := r.Create(ctx, device); err != nil && !errors.Is(err, ErrDeviceExists) {
		return nil, err
	}
	return r.InMemoryDeviceRepository.FindByUniqueID(ctx, uniqueID)
}
