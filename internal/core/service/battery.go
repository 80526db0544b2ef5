package service

import (
	"math"
	"strconv"

	"gpsrelay/internal/core/model"
)

// BatteryEstimator derives a charge percentage from a position. ok is false
// when the position carries nothing to estimate from.
type BatteryEstimator interface {
	Estimate(p *model.Position) (percent int, ok bool)
}

// VoltageCurve maps a reported battery voltage linearly onto 0-100 percent.
// A reported "batteryLevel" attribute is used as is.
type VoltageCurve struct {
	MinVoltage   float64
	VoltageRange float64
}

func (c VoltageCurve) Estimate(p *model.Position) (int, bool) {
	if v, ok := p.Attribute("batteryLevel"); ok {
		if level, ok := toFloat(v); ok {
			return clampPercent(level), true
		}
	}
	if v, ok := p.Attribute("battery"); ok && c.VoltageRange > 0 {
		if voltage, ok := toFloat(v); ok {
			return clampPercent((voltage - c.MinVoltage) / c.VoltageRange * 100), true
		}
	}
	return 0, false
}

func clampPercent(v float64) int {
	if math.IsNaN(v) {
		return 0
	}
	return int(math.Round(math.Max(0, math.Min(100, v))))
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
