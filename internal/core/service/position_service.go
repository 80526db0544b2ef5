package service

import (
	"context"

	"gpsrelay/internal/core/model"
	"gpsrelay/internal/core/repository"
)

// PositionService reads the position history recorded by the dispatcher.
type PositionService interface {
	GetDevicePositions(ctx context.Context, deviceID string) ([]*model.Position, error)
	GetLatestPosition(ctx context.Context, deviceID string) (*model.Position, error)
}

type positionService struct {
	positionRepo repository.PositionRepository
	devices      DeviceService
}

func NewPositionService(positionRepo repository.PositionRepository, devices DeviceService) PositionService {
	return &positionService{
		positionRepo: positionRepo,
		devices:      devices,
	}
}

func (s *positionService) GetDevicePositions(ctx context.Context, deviceID string) ([]*model.Position, error) {
	device, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return s.positionRepo.FindByDeviceID(ctx, device.ID)
}

// GetLatestPosition returns nil when the device has no recorded position.
func (s *positionService) GetLatestPosition(ctx context.Context, deviceID string) (*model.Position, error) {
	device, err := s.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return s.positionRepo.FindLatestByDeviceID(ctx, device.ID)
}
