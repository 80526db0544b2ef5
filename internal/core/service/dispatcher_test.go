package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpsrelay/internal/core/format"
	"gpsrelay/internal/core/lifecycle"
	"gpsrelay/internal/core/model"
	"gpsrelay/internal/core/repository"
	"gpsrelay/internal/logging"
	"gpsrelay/internal/sink"
	"gpsrelay/internal/worker"
)

type testConn struct{}

func (testConn) ID() string           { return "0a1b2c3d-0000-4000-8000-000000000000" }
func (testConn) Tag() string          { return "[0a1b2c3d]" }
func (testConn) Protocol() string     { return "h02" }
func (testConn) Kind() lifecycle.Kind { return lifecycle.KindStream }
func (testConn) Close() error         { return nil }

type fakeSender struct {
	mu      sync.Mutex
	reports []sink.Report
	err     error
	block   bool
	delay   time.Duration
}

func (s *fakeSender) Report(ctx context.Context, r sink.Report) error {
	s.mu.Lock()
	s.reports = append(s.reports, r)
	s.mu.Unlock()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.err
}

func (s *fakeSender) calls() []sink.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sink.Report(nil), s.reports...)
}

type fakeSessions struct {
	dead  bool
	bound map[string]string
}

func (s *fakeSessions) Alive(string) bool { return !s.dead }

func (s *fakeSessions) BindDevice(connID, deviceID string) {
	if s.bound == nil {
		s.bound = make(map[string]string)
	}
	s.bound[connID] = deviceID
}

type fakeStats struct {
	stored  []string
	reports []bool
}

func (s *fakeStats) RegisterMessageStored(deviceID, protocol string) {
	s.stored = append(s.stored, deviceID+"/"+protocol)
}

func (s *fakeStats) RegisterReport(success bool) {
	s.reports = append(s.reports, success)
}

type fullReporter struct{}

func (fullReporter) Submit(sink.Report) (*worker.Future[struct{}], error) {
	return nil, worker.ErrQueueFull
}

type failingLatest struct {
	repository.DeviceStore
}

func (failingLatest) UpdateLatestPosition(context.Context, *model.Position) error {
	return errors.New("store unavailable")
}

type harness struct {
	devices  *repository.InMemoryDeviceRepository
	device   *model.Device
	sender   *fakeSender
	sessions *fakeSessions
	stats    *fakeStats
	logs     *bytes.Buffer
	deps     Dependencies
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		devices:  repository.NewInMemoryDeviceRepository(),
		device:   model.NewDevice("truck", "865205030330012"),
		sender:   &fakeSender{},
		sessions: &fakeSessions{},
		stats:    &fakeStats{},
		logs:     &bytes.Buffer{},
	}
	require.NoError(t, h.devices.Create(context.Background(), h.device))

	h.deps = Dependencies{
		Devices:      h.devices,
		Sessions:     h.sessions,
		Statistics:   h.stats,
		Battery:      VoltageCurve{MinVoltage: 3.3, VoltageRange: 0.9},
		Formatter:    format.NewFormatter([]string{"time", "position", "speed"}),
		Logger:       logging.New(h.logs, "debug", "text"),
		StoreTimeout: time.Second,
		SinkTimeout:  time.Second,
	}
	return h
}

// start runs the real async sink client over the fake sender.
func (h *harness) start(t *testing.T, sinkTimeout time.Duration) *Dispatcher {
	t.Helper()
	async := sink.NewAsyncClient(h.sender, sinkTimeout, 2, 8, nil)
	require.NoError(t, async.Start(context.Background()))
	t.Cleanup(func() { _ = async.Stop(time.Second) })

	if h.deps.Reporter == nil {
		h.deps.Reporter = async
	}
	return NewDispatcher(h.deps)
}

func (h *harness) position(lat, lon float64) *model.Position {
	p := model.NewPosition(h.device.ID, lat, lon)
	p.Protocol = "h02"
	p.FixTime = time.Date(2024, 3, 9, 7, 5, 1, 0, time.UTC)
	return p
}

func (h *harness) stored(t *testing.T) *model.Device {
	t.Helper()
	got, err := h.devices.FindByID(context.Background(), h.device.ID)
	require.NoError(t, err)
	return got
}

func TestDispatchForwardsAndWritesBack(t *testing.T) {
	h := newHarness(t)
	d := h.start(t, time.Second)

	position := h.position(37.12345, -122.6789)
	position.Speed = 12.5
	position.Attributes["battery"] = 3.75

	require.NoError(t, d.Dispatch(context.Background(), testConn{}, position))

	calls := h.sender.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, h.device.ID, calls[0].DeviceID)
	assert.Equal(t, "865205030330012", calls[0].UniqueID)
	assert.Equal(t, 12.5, calls[0].Speed)

	got := h.stored(t)
	assert.Equal(t, model.StatusActive, got.Status)
	assert.Equal(t, position.ID, got.PositionID)
	require.NotNil(t, got.Report)
	assert.Equal(t, 1, got.Report.APIResult)
	assert.Equal(t, -122.6789, got.Report.Longitude)
	assert.Equal(t, 37.12345, got.Report.Latitude)
	assert.Equal(t, "-13656552.679079", got.Report.StandardLon)
	assert.NotEmpty(t, got.Report.StandardLat)
	require.NotNil(t, got.Report.Battery)
	assert.Equal(t, 50, *got.Report.Battery)

	assert.Contains(t, h.logs.String(),
		"[0a1b2c3d] id: 865205030330012, time: 2024-03-09 07:05:01, lat: 37.12345, lon: -122.67890, speed: 12.5")
	assert.Equal(t, []string{h.device.ID + "/h02"}, h.stats.stored)
	assert.Equal(t, []bool{true}, h.stats.reports)
	assert.Equal(t, h.device.ID, h.sessions.bound[testConn{}.ID()])
}

func TestDispatchSinkFailureRecordsZero(t *testing.T) {
	h := newHarness(t)
	h.sender.err = sink.ErrSinkStatus
	d := h.start(t, time.Second)

	require.NoError(t, d.Dispatch(context.Background(), testConn{}, h.position(37.12345, -122.6789)))

	got := h.stored(t)
	require.NotNil(t, got.Report)
	assert.Equal(t, 0, got.Report.APIResult)
	assert.NotEmpty(t, got.Report.StandardLat, "projection still recorded")
	assert.Contains(t, h.logs.String(), "lat: 37.12345, lon: -122.67890")
	assert.Equal(t, []bool{false}, h.stats.reports)
}

func TestDispatchSlowSinkIsBounded(t *testing.T) {
	h := newHarness(t)
	h.sender.block = true
	h.deps.SinkTimeout = 20 * time.Millisecond
	d := h.start(t, 50*time.Millisecond)

	start := time.Now()
	require.NoError(t, d.Dispatch(context.Background(), testConn{}, h.position(10, 10)))
	assert.Less(t, time.Since(start), time.Second)

	got := h.stored(t)
	require.NotNil(t, got.Report)
	assert.Equal(t, 0, got.Report.APIResult)
}

func TestDispatchQueueFullRecordsZero(t *testing.T) {
	h := newHarness(t)
	h.deps.Reporter = fullReporter{}
	d := h.start(t, time.Second)

	require.NoError(t, d.Dispatch(context.Background(), testConn{}, h.position(10, 10)))

	assert.Empty(t, h.sender.calls())
	assert.Equal(t, 0, h.stored(t).Report.APIResult)
	assert.Contains(t, h.logs.String(), "report not scheduled")
}

func TestDispatchUnknownDeviceAborts(t *testing.T) {
	h := newHarness(t)
	d := h.start(t, time.Second)

	position := model.NewPosition("missing", 10, 10)
	err := d.Dispatch(context.Background(), testConn{}, position)

	assert.ErrorIs(t, err, ErrUnknownDevice)
	assert.Empty(t, h.sender.calls())
	assert.Nil(t, h.stored(t).Report)
	assert.Empty(t, h.stats.stored)
	assert.Empty(t, h.stats.reports)
	assert.NotContains(t, h.logs.String(), " id: ")
}

func TestDispatchContinuesWhenLatestPositionFails(t *testing.T) {
	h := newHarness(t)
	h.deps.Devices = failingLatest{DeviceStore: h.devices}
	d := h.start(t, time.Second)

	require.NoError(t, d.Dispatch(context.Background(), testConn{}, h.position(10, 10)))

	assert.Len(t, h.sender.calls(), 1)
	got := h.stored(t)
	assert.Equal(t, model.StatusInactive, got.Status)
	require.NotNil(t, got.Report)
	assert.Equal(t, 1, got.Report.APIResult)
	assert.Contains(t, h.logs.String(), "failed to update latest position")
}

func TestDispatchProjectionFailureSkipsSink(t *testing.T) {
	h := newHarness(t)
	d := h.start(t, time.Second)

	require.NoError(t, d.Dispatch(context.Background(), testConn{}, h.position(90, 10)))

	assert.Empty(t, h.sender.calls())
	got := h.stored(t)
	require.NotNil(t, got.Report)
	assert.Equal(t, 0, got.Report.APIResult)
	assert.Empty(t, got.Report.StandardLat)
	assert.Empty(t, got.Report.StandardLon)
	assert.Contains(t, h.logs.String(), "lat: 90.00000")
}

func TestDispatchDiscardsOutcomeOfClosedConnection(t *testing.T) {
	h := newHarness(t)
	h.sessions.dead = true
	d := h.start(t, time.Second)

	require.NoError(t, d.Dispatch(context.Background(), testConn{}, h.position(10, 10)))

	assert.Len(t, h.sender.calls(), 1, "in-flight report is allowed to complete")
	assert.Nil(t, h.stored(t).Report)
	assert.Contains(t, h.logs.String(), "report outcome discarded")
}

func TestDispatchCompletesAfterCancel(t *testing.T) {
	h := newHarness(t)
	h.sender.delay = 100 * time.Millisecond
	d := h.start(t, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, d.Dispatch(ctx, testConn{}, h.position(10, 10)))

	got := h.stored(t)
	require.NotNil(t, got.Report)
	assert.Equal(t, 1, got.Report.APIResult, "the sink succeeded after the caller gave up")
	assert.Equal(t, []bool{true}, h.stats.reports)
}

func TestDispatchKeepsPositionHistory(t *testing.T) {
	h := newHarness(t)
	history := repository.NewInMemoryPositionRepository()
	h.deps.Positions = history
	d := h.start(t, time.Second)

	first := h.position(10, 10)
	second := h.position(11, 11)
	require.NoError(t, d.Dispatch(context.Background(), testConn{}, first))
	require.NoError(t, d.Dispatch(context.Background(), testConn{}, second))

	stored, err := history.FindByDeviceID(context.Background(), h.device.ID)
	require.NoError(t, err)
	assert.Equal(t, []*model.Position{first, second}, stored)
	assert.Equal(t, second.ID, h.stored(t).PositionID)
}

func TestVoltageCurve(t *testing.T) {
	curve := VoltageCurve{MinVoltage: 3.3, VoltageRange: 0.9}

	tests := []struct {
		name  string
		attrs map[string]interface{}
		want  int
		ok    bool
	}{
		{name: "none", attrs: map[string]interface{}{}},
		{name: "level wins", attrs: map[string]interface{}{"batteryLevel": 87, "battery": 3.3}, want: 87, ok: true},
		{name: "voltage", attrs: map[string]interface{}{"battery": 3.75}, want: 50, ok: true},
		{name: "voltage text", attrs: map[string]interface{}{"battery": "4.2"}, want: 100, ok: true},
		{name: "below curve", attrs: map[string]interface{}{"battery": 3.0}, want: 0, ok: true},
		{name: "above curve", attrs: map[string]interface{}{"battery": 4.8}, want: 100, ok: true},
		{name: "unparsable", attrs: map[string]interface{}{"battery": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := model.NewPosition("d", 0, 0)
			p.Attributes = tt.attrs

			got, ok := curve.Estimate(p)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
