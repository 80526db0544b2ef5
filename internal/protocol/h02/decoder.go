// Package h02 decodes the text variant of the H02 tracker protocol:
//
//	*HQ,<imei>,V1,hhmmss,A,DDMM.MMMM,N,DDDMM.MMMM,E,speed,course,ddmmyy,status#
package h02

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gpsrelay/internal/core/model"
)

const ProtocolName = "h02"

var (
	ErrPacketTooShort     = errors.New("data too short for H02 protocol")
	ErrInvalidHeader      = errors.New("invalid H02 protocol header")
	ErrInvalidFormat      = errors.New("invalid H02 data format")
	ErrInvalidMessageType = errors.New("unsupported H02 message type")
	ErrInvalidCoordinate  = errors.New("invalid H02 coordinate")
	ErrInvalidTime        = errors.New("invalid H02 time")
)

// H02 protocol constants
const (
	startSequence = "*HQ"
	minLength     = 10

	infoReport  = "V1"
	replyReport = "V4"
	heartbeat   = "XT"
	link        = "LINK"

	knotsToKmh = 1.852
)

type Decoder struct{}

func NewDecoder() *Decoder {
	return &Decoder{}
}

// H02Data is one decoded message. Heartbeat messages carry only IMEI and Type.
type H02Data struct {
	IMEI      string
	Type      string
	Latitude  float64
	Longitude float64
	Speed     float64
	Course    float64
	Timestamp time.Time
	Valid     bool
	Alarm     string
	Ignition  bool
	Status    map[string]interface{}
}

// HasFix reports whether the message carries a location.
func (d *H02Data) HasFix() bool {
	return d.Type == infoReport || d.Type == replyReport
}

func (d *Decoder) Protocol() string {
	return ProtocolName
}

// Decode parses one frame and returns the sender IMEI and, for location
// messages, the position. Heartbeats return a nil position.
func (d *Decoder) Decode(frame []byte) (string, *model.Position, error) {
	data, err := d.Parse(frame)
	if err != nil {
		return "", nil, err
	}
	if !data.HasFix() {
		return data.IMEI, nil, nil
	}
	return data.IMEI, d.ToPosition("", data), nil
}

func (d *Decoder) Parse(frame []byte) (*H02Data, error) {
	text := strings.TrimSpace(string(frame))
	text = strings.TrimSuffix(text, "#")

	if len(text) < minLength {
		return nil, ErrPacketTooShort
	}
	if !strings.HasPrefix(text, startSequence+",") {
		return nil, ErrInvalidHeader
	}

	parts := strings.Split(text, ",")
	if len(parts) < 3 {
		return nil, ErrInvalidFormat
	}

	result := &H02Data{
		IMEI:   parts[1],
		Type:   parts[2],
		Status: make(map[string]interface{}),
	}
	if result.IMEI == "" {
		return nil, fmt.Errorf("%w: empty device id", ErrInvalidFormat)
	}

	switch result.Type {
	case infoReport:
		return result, decodeLocation(result, parts[3:])
	case replyReport:
		// V4 echoes the command and its time before the location fields.
		if len(parts) < 5 {
			return nil, ErrInvalidFormat
		}
		return result, decodeLocation(result, parts[5:])
	case heartbeat, link:
		return result, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidMessageType, result.Type)
	}
}

// decodeLocation reads hhmmss,A,lat,N,lon,E,speed,course,ddmmyy[,status].
func decodeLocation(result *H02Data, fields []string) error {
	if len(fields) < 9 {
		return ErrInvalidFormat
	}

	result.Valid = fields[1] == "A"

	lat, err := parseCoordinate(fields[2], fields[3], 90)
	if err != nil {
		return err
	}
	lon, err := parseCoordinate(fields[4], fields[5], 180)
	if err != nil {
		return err
	}
	result.Latitude = lat
	result.Longitude = lon

	// Parse speed (in knots, convert to km/h)
	if speed, err := strconv.ParseFloat(fields[6], 64); err == nil {
		result.Speed = speed * knotsToKmh
	}
	if course, err := strconv.ParseFloat(fields[7], 64); err == nil {
		result.Course = course
	}

	ts, err := time.ParseInLocation("020106150405", fields[8]+fields[0], time.UTC)
	if err != nil {
		return fmt.Errorf("%w: %s %s", ErrInvalidTime, fields[8], fields[0])
	}
	result.Timestamp = ts

	if len(fields) > 9 {
		decodeStatus(result, fields[9])
	}
	return nil
}

// decodeStatus reads the active-low status word.
func decodeStatus(result *H02Data, word string) {
	status, err := strconv.ParseUint(word, 16, 32)
	if err != nil {
		return
	}
	result.Status["status"] = word

	switch {
	case status&(1<<1) == 0:
		result.Alarm = "sos"
	case status&(1<<2) == 0:
		result.Alarm = "overspeed"
	case status&(1<<19) == 0:
		result.Alarm = "powerCut"
	}
	if result.Alarm != "" {
		result.Status["alarm"] = result.Alarm
	}

	result.Ignition = status&(1<<10) != 0
	result.Status["ignition"] = result.Ignition
}

// parseCoordinate converts DDMM.MMMM or DDDMM.MMMM with a hemisphere into
// signed decimal degrees.
func parseCoordinate(coord, hemisphere string, limit float64) (float64, error) {
	dot := strings.IndexByte(coord, '.')
	if dot < 0 {
		dot = len(coord)
	}
	if dot < 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCoordinate, coord)
	}

	degrees, err := strconv.ParseFloat(coord[:dot-2], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCoordinate, coord)
	}
	minutes, err := strconv.ParseFloat(coord[dot-2:], 64)
	if err != nil || minutes >= 60 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCoordinate, coord)
	}

	value := degrees + minutes/60
	if value > limit {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidCoordinate, coord)
	}

	switch hemisphere {
	case "S", "W":
		value = -value
	case "N", "E":
	default:
		return 0, fmt.Errorf("%w: hemisphere %q", ErrInvalidCoordinate, hemisphere)
	}
	return value, nil
}

// ToPosition builds the position for deviceID. The transport fills in the
// device id when it is not yet known.
func (d *Decoder) ToPosition(deviceID string, data *H02Data) *model.Position {
	position := model.NewPosition(deviceID, data.Latitude, data.Longitude)
	position.Protocol = ProtocolName
	position.FixTime = data.Timestamp
	position.Speed = data.Speed
	position.Course = data.Course
	position.Valid = data.Valid

	for k, v := range data.Status {
		position.Attributes[k] = v
	}
	return position
}
