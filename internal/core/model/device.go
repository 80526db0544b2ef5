package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Device is owned by the device registry. The relay only reads UniqueID and
// writes the latest position and report status fields.
type Device struct {
	ID         string        `json:"id" bson:"id"`
	Name       string        `json:"name" bson:"name"`
	UniqueID   string        `json:"uniqueId" bson:"uniqueid"`
	Status     string        `json:"status" bson:"status"`
	LastUpdate time.Time     `json:"lastUpdate" bson:"lastupdate"`
	PositionID string        `json:"positionId,omitempty" bson:"positionid,omitempty"`
	CreatedAt  time.Time     `json:"createdAt" bson:"createdat"`
	Protocol   string        `json:"protocol" bson:"protocol"`
	Report     *ReportStatus `json:"report,omitempty" bson:"report,omitempty"`
}

func NewDevice(name, uniqueID string) *Device {
	now := time.Now().UTC()
	return &Device{
		ID:         uuid.NewString(),
		Name:       name,
		UniqueID:   uniqueID,
		Status:     StatusInactive,
		LastUpdate: now,
		CreatedAt:  now,
	}
}

// NewTestDevice creates a new test device instance
func NewTestDevice(uniqueID string) *Device {
	return &Device{
		ID:         uniqueID,
		Name:       "Test Device",
		UniqueID:   uniqueID,
		Status:     StatusActive,
		LastUpdate: time.Now().UTC(),
		CreatedAt:  time.Now().UTC(),
		Protocol:   "test",
	}
}

// IsTestDevice checks if this is a test device
func (d *Device) IsTestDevice() bool {
	return strings.HasPrefix(d.UniqueID, "test-") || strings.HasPrefix(d.UniqueID, "demo-")
}

// Clone returns a copy that shares no mutable state with d.
func (d *Device) Clone() *Device {
	c := *d
	if d.Report != nil {
		r := *d.Report
		if d.Report.Battery != nil {
			b := *d.Report.Battery
			r.Battery = &b
		}
		c.Report = &r
	}
	return &c
}
