package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"gpsrelay/internal/core/model"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrDeviceExists   = errors.New("device already exists")
)

// DeviceStore is the relay's view of the device registry. Implementations
// must be safe for concurrent use and apply each update atomically per device.
type DeviceStore interface {
	FindByID(ctx context.Context, id string) (*model.Device, error)
	FindByUniqueID(ctx context.Context, uniqueID string) (*model.Device, error)
	UpdateLatestPosition(ctx context.Context, position *model.Position) error
	UpdateReportStatus(ctx context.Context, uniqueID string, status model.ReportStatus) error
	ClearActive(ctx context.Context, deviceID string) error
}

type MongoDeviceRepository struct {
	collection *mongo.Collection
}

func NewMongoDeviceRepository(db *mongo.Database) *MongoDeviceRepository {
	return &MongoDeviceRepository{
		collection: db.Collection("devices"),
	}
}

// EnsureIndexes creates the unique lookup indexes used by the relay.
func (r *MongoDeviceRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "uniqueid", Value: 1}}, Options: options.Index().SetUnique(true)},
	})
	return err
}

func (r *MongoDeviceRepository) Create(ctx context.Context, device *model.Device) error {
	_, err := r.collection.InsertOne(ctx, device)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", ErrDeviceExists, device.UniqueID)
	}
	return err
}

func (r *MongoDeviceRepository) FindByID(ctx context.Context, id string) (*model.Device, error) {
	return r.findOne(ctx, bson.M{"id": id})
}

func (r *MongoDeviceRepository) FindByUniqueID(ctx context.Context, uniqueID string) (*model.Device, error) {
	return r.findOne(ctx, bson.M{"uniqueid": uniqueID})
}

func (r *MongoDeviceRepository) findOne(ctx context.Context, filter bson.M) (*model.Device, error) {
	var device model.Device
	err := r.collection.FindOne(ctx, filter).Decode(&device)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrDeviceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *MongoDeviceRepository) UpdateLatestPosition(ctx context.Context, position *model.Position) error {
	return r.updateOne(ctx, bson.M{"id": position.DeviceID}, bson.M{
		"positionid": position.ID,
		"lastupdate": position.FixTime,
		"status":     model.StatusActive,
	})
}

func (r *MongoDeviceRepository) UpdateReportStatus(ctx context.Context, uniqueID string, status model.ReportStatus) error {
	return r.updateOne(ctx, bson.M{"uniqueid": uniqueID}, bson.M{"report": status})
}

func (r *MongoDeviceRepository) ClearActive(ctx context.Context, deviceID string) error {
	return r.updateOne(ctx, bson.M{"id": deviceID}, bson.M{
		"status":     model.StatusInactive,
		"lastupdate": time.Now().UTC(),
	})
}

func (r *MongoDeviceRepository) updateOne(ctx context.Context, filter, set bson.M) error {
	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrDeviceNotFound
	}
	return nil
}
