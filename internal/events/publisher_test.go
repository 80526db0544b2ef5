package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpsrelay/internal/core/model"
)

type recordingPublisher struct {
	got    []*model.ReportOutcome
	err    error
	closed bool
}

func (r *recordingPublisher) Publish(_ context.Context, o *model.ReportOutcome) error {
	r.got = append(r.got, o)
	return r.err
}

func (r *recordingPublisher) Close() { r.closed = true }

func TestEncode(t *testing.T) {
	battery := 80
	outcome := &model.ReportOutcome{
		DeviceID:     "1",
		UniqueID:     "865205030330012",
		Protocol:     "h02",
		Success:      true,
		ProjectedLat: 2587236.61,
		ProjectedLon: 12706417.45,
		Projected:    true,
		Timestamp:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Battery:      &battery,
	}

	data, err := Encode(outcome)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "865205030330012", decoded["uniqueId"])
	assert.Equal(t, true, decoded["success"])
	assert.Equal(t, 80.0, decoded["battery"])
	assert.Equal(t, "2024-05-01T12:00:00Z", decoded["timestamp"])
}

func TestMultiPublisher(t *testing.T) {
	ok := &recordingPublisher{}
	failing := &recordingPublisher{err: errors.New("bus down")}
	multi := Multi{ok, failing}

	err := multi.Publish(context.Background(), &model.ReportOutcome{UniqueID: "u"})
	assert.ErrorContains(t, err, "bus down")
	assert.Len(t, ok.got, 1)
	assert.Len(t, failing.got, 1)

	multi.Close()
	assert.True(t, ok.closed)
	assert.True(t, failing.closed)
}

func TestNop(t *testing.T) {
	p := Nop()
	assert.NoError(t, p.Publish(context.Background(), &model.ReportOutcome{}))
	p.Close()
}
