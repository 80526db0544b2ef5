package repository

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gpsrelay/internal/cache"
	"gpsrelay/internal/core/model"
)

// CachedDeviceRepository is a read-through Redis cache in front of another
// DeviceStore. Lookups populate both the id and uniqueId keys.
type CachedDeviceRepository struct {
	next   DeviceStore
	cache  *cache.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedDeviceRepository(next DeviceStore, c *cache.Client, ttl time.Duration, logger *slog.Logger) *CachedDeviceRepository {
	return &CachedDeviceRepository{
		next:   next,
		cache:  c,
		ttl:    ttl,
		logger: logger.With("component", "device_cache"),
	}
}

func idKey(id string) string           { return "device:id:" + id }
func uniqueKey(uniqueID string) string { return "device:uid:" + uniqueID }

func (r *CachedDeviceRepository) FindByID(ctx context.Context, id string) (*model.Device, error) {
	return r.lookup(ctx, idKey(id), func() (*model.Device, error) {
		return r.next.FindByID(ctx, id)
	})
}

func (r *CachedDeviceRepository) FindByUniqueID(ctx context.Context, uniqueID string) (*model.Device, error) {
	return r.lookup(ctx, uniqueKey(uniqueID), func() (*model.Device, error) {
		return r.next.FindByUniqueID(ctx, uniqueID)
	})
}

func (r *CachedDeviceRepository) lookup(ctx context.Context, key string, load func() (*model.Device, error)) (*model.Device, error) {
	var device model.Device
	err := r.cache.Get(ctx, key, &device)
	if err == nil {
		return &device, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		r.logger.Warn("cache read failed", "key", key, "error", err)
	}

	loaded, err := load()
	if err != nil {
		return nil, err
	}
	r.store(ctx, loaded)
	return loaded, nil
}

func (r *CachedDeviceRepository) store(ctx context.Context, device *model.Device) {
	for _, key := range []string{idKey(device.ID), uniqueKey(device.UniqueID)} {
		if err := r.cache.Set(ctx, key, device, r.ttl); err != nil {
			r.logger.Warn("cache write failed", "key", key, "error", err)
		}
	}
}

// Writes pass straight through. Cached entries serve identity lookups
// (id <-> uniqueId, which never change); status fields may lag by the TTL.

func (r *CachedDeviceRepository) UpdateLatestPosition(ctx context.Context, position *model.Position) error {
	return r.next.UpdateLatestPosition(ctx, position)
}

func (r *CachedDeviceRepository) UpdateReportStatus(ctx context.Context, uniqueID string, status model.ReportStatus) error {
	return r.next.UpdateReportStatus(ctx, uniqueID, status)
}

func (r *CachedDeviceRepository) ClearActive(ctx context.Context, deviceID string) error {
	return r.next.ClearActive(ctx, deviceID)
}
