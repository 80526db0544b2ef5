package model

import (
	"time"

	"github.com/google/uuid"
)

// Position is a single decoded fix. It is produced by a protocol decoder and
// consumed once by the dispatcher; nothing downstream mutates it.
type Position struct {
	ID         string                 `json:"id" bson:"id"`
	DeviceID   string                 `json:"deviceId" bson:"deviceid"`
	Protocol   string                 `json:"protocol" bson:"protocol"`
	FixTime    time.Time              `json:"fixTime" bson:"fixtime"`
	Latitude   float64                `json:"latitude" bson:"latitude"`
	Longitude  float64                `json:"longitude" bson:"longitude"`
	Altitude   float64                `json:"altitude" bson:"altitude"`
	Speed      float64                `json:"speed" bson:"speed"`
	Course     float64                `json:"course" bson:"course"`
	Accuracy   float64                `json:"accuracy" bson:"accuracy"`
	Valid      bool                   `json:"valid" bson:"valid"`
	Outdated   bool                   `json:"outdated" bson:"outdated"`
	Attributes map[string]interface{} `json:"attributes,omitempty" bson:"attributes,omitempty"`
}

func NewPosition(deviceID string, lat, lon float64) *Position {
	return &Position{
		ID:         uuid.NewString(),
		DeviceID:   deviceID,
		FixTime:    time.Now().UTC(),
		Latitude:   lat,
		Longitude:  lon,
		Protocol:   "unknown",
		Valid:      true,
		Attributes: make(map[string]interface{}),
	}
}

// Attribute returns the named attribute and whether it was reported.
func (p *Position) Attribute(name string) (interface{}, bool) {
	if p.Attributes == nil {
		return nil, false
	}
	v, ok := p.Attributes[name]
	return v, ok && v != nil
}
