package repository

import (
	"context"
	"sync"

	"gpsrelay/internal/core/model"
)

// inMemoryPositionRepository keeps positions per device in arrival order.
type inMemoryPositionRepository struct {
	positions map[string][]*model.Position
	mutex     sync.RWMutex
}

func NewInMemoryPositionRepository() PositionRepository {
	return &inMemoryPositionRepository{
		positions: make(map[string][]*model.Position),
	}
}

func (r *inMemoryPositionRepository) Create(_ context.Context, position *model.Position) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.positions[position.DeviceID] = append(r.positions[position.DeviceID], position)
	return nil
}

func (r *inMemoryPositionRepository) FindByDeviceID(_ context.Context, deviceID string) ([]*model.Position, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]*model.Position, len(r.positions[deviceID]))
	copy(result, r.positions[deviceID])
	return result, nil
}

func (r *inMemoryPositionRepository) FindLatestByDeviceID(_ context.Context, deviceID string) (*model.Position, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var latest *model.Position
	for _, position := range r.positions[deviceID] {
		if latest == nil || !position.FixTime.Before(latest.FixTime) {
			latest = position
		}
	}
	return latest, nil
}
