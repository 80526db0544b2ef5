package service

import (
	"context"
	"errors"

	"gpsrelay/internal/core/model"
	"gpsrelay/internal/core/repository"
)

var ErrInvalidID = errors.New("invalid device ID")

// DeviceService is the read side of the device store served by the API.
type DeviceService interface {
	GetDevice(ctx context.Context, id string) (*model.Device, error)
}

type deviceService struct {
	deviceRepo repository.DeviceStore
}

func NewDeviceService(deviceRepo repository.DeviceStore) DeviceService {
	return &deviceService{deviceRepo: deviceRepo}
}

// GetDevice looks the device up by id and falls back to its unique id.
func (s *deviceService) GetDevice(ctx context.Context, id string) (*model.Device, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	device, err := s.deviceRepo.FindByID(ctx, id)
	if errors.Is(err, repository.ErrDeviceNotFound) {
		return s.deviceRepo.FindByUniqueID(ctx, id)
	}
	return device, err
}
