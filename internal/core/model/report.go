package model

import "time"

// ReportStatus is the write-back record stored on the device after each
// forwarding attempt. Projected coordinates are kept as six decimal strings,
// the same text that was sent to the sink.
type ReportStatus struct {
	Longitude   float64   `json:"longitude" bson:"longitude"`
	Latitude    float64   `json:"latitude" bson:"latitude"`
	StandardLat string    `json:"standardLat" bson:"standardLat"`
	StandardLon string    `json:"standardLon" bson:"standardLon"`
	APIResult   int       `json:"apiResult" bson:"apiResult"`
	APITime     time.Time `json:"apiTime" bson:"apiTime"`
	Battery     *int      `json:"battery,omitempty" bson:"battery,omitempty"`
}

// ReportOutcome is the transient result of dispatching one position.
type ReportOutcome struct {
	DeviceID     string    `json:"deviceId"`
	UniqueID     string    `json:"uniqueId"`
	Protocol     string    `json:"protocol"`
	Success      bool      `json:"success"`
	ProjectedLat float64   `json:"projectedLat"`
	ProjectedLon float64   `json:"projectedLon"`
	Projected    bool      `json:"projected"`
	Timestamp    time.Time `json:"timestamp"`
	Battery      *int      `json:"battery,omitempty"`
}

// APIFlag is 1 for a successful forward and 0 otherwise.
func (o *ReportOutcome) APIFlag() int {
	if o.Success {
		return 1
	}
	return 0
}
