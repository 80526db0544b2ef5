// Package nmea decodes datagrams of the form "<uniqueId>,<NMEA sentence>"
// sent by trackers that relay raw receiver output over UDP.
package nmea

import (
	"errors"
	"fmt"
	"strings"
	"time"

	gonmea "github.com/adrianmo/go-nmea"

	"gpsrelay/internal/core/model"
)

const ProtocolName = "nmea"

var (
	ErrInvalidFrame    = errors.New("invalid nmea frame")
	ErrUnsupportedType = errors.New("unsupported nmea sentence")
)

const knotsToKmh = 1.852

type Decoder struct{}

func NewDecoder() *Decoder {
	return &Decoder{}
}

func (d *Decoder) Protocol() string {
	return ProtocolName
}

// Decode returns the sender id and the position carried by an RMC sentence.
func (d *Decoder) Decode(frame []byte) (string, *model.Position, error) {
	text := strings.TrimSpace(string(frame))
	uniqueID, raw, found := strings.Cut(text, ",")
	if !found || uniqueID == "" || !strings.HasPrefix(raw, "$") {
		return "", nil, ErrInvalidFrame
	}

	sentence, err := gonmea.Parse(raw)
	if err != nil {
		return uniqueID, nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}

	switch sentence.DataType() {
	case gonmea.TypeRMC:
		return uniqueID, fromRMC(sentence.(gonmea.RMC)), nil
	default:
		return uniqueID, nil, fmt.Errorf("%w: %s", ErrUnsupportedType, sentence.DataType())
	}
}

func fromRMC(m gonmea.RMC) *model.Position {
	position := model.NewPosition("", m.Latitude, m.Longitude)
	position.Protocol = ProtocolName
	position.Valid = m.Validity == gonmea.ValidRMC
	position.Speed = m.Speed * knotsToKmh
	position.Course = m.Course
	if m.Date.Valid && m.Time.Valid {
		position.FixTime = time.Date(fullYear(m.Date.YY), time.Month(m.Date.MM), m.Date.DD,
			m.Time.Hour, m.Time.Minute, m.Time.Second, m.Time.Millisecond*int(time.Millisecond), time.UTC)
	} else {
		position.Outdated = true
	}
	if m.Variation != 0 {
		position.Attributes["variation"] = m.Variation
	}
	return position
}

// fullYear expands the two digit RMC year; 80-99 is the previous century.
func fullYear(yy int) int {
	if yy >= 80 {
		return 1900 + yy
	}
	return 2000 + yy
}
