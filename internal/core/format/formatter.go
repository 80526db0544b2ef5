// Package format renders decoded positions as single-line log records.
package format

import (
	"fmt"
	"strconv"
	"strings"

	"gpsrelay/internal/core/model"
)

// TimeLayout is the fixed fix time format, always rendered in UTC.
const TimeLayout = "2006-01-02 15:04:05"

// Formatter renders a fixed, ordered set of attributes. It holds no mutable
// state and is shared by every connection.
type Formatter struct {
	attributes []string
}

func NewFormatter(attributes []string) *Formatter {
	attrs := make([]string, len(attributes))
	copy(attrs, attributes)
	return &Formatter{attributes: attrs}
}

// Attributes returns a copy of the configured attribute order.
func (f *Formatter) Attributes() []string {
	attrs := make([]string, len(f.attributes))
	copy(attrs, f.attributes)
	return attrs
}

// Format returns "<tag> id: <uniqueID>[, <field>: <value>]*".
func (f *Formatter) Format(tag, uniqueID string, p *model.Position) string {
	var b strings.Builder
	b.WriteString(tag)
	b.WriteString(" id: ")
	b.WriteString(uniqueID)

	for _, attribute := range f.attributes {
		switch attribute {
		case "time":
			b.WriteString(", time: ")
			b.WriteString(p.FixTime.UTC().Format(TimeLayout))
		case "position":
			b.WriteString(", lat: ")
			b.WriteString(fixed(p.Latitude, 5))
			b.WriteString(", lon: ")
			b.WriteString(fixed(p.Longitude, 5))
		case "speed":
			if p.Speed > 0 {
				b.WriteString(", speed: ")
				b.WriteString(fixed(p.Speed, 1))
			}
		case "course":
			b.WriteString(", course: ")
			b.WriteString(fixed(p.Course, 1))
		case "accuracy":
			if p.Accuracy > 0 {
				b.WriteString(", accuracy: ")
				b.WriteString(fixed(p.Accuracy, 1))
			}
		case "outdated":
			if p.Outdated {
				b.WriteString(", outdated")
			}
		case "invalid":
			if !p.Valid {
				b.WriteString(", invalid")
			}
		default:
			if value, ok := p.Attribute(attribute); ok {
				b.WriteString(", ")
				b.WriteString(attribute)
				b.WriteString(": ")
				b.WriteString(renderValue(value))
			}
		}
	}
	return b.String()
}

func fixed(v float64, decimals int) string {
	return strconv.FormatFloat(v, 'f', decimals, 64)
}

func renderValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}
