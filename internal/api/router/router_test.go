package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gpsrelay/internal/core/model"
	"gpsrelay/internal/core/repository"
	"gpsrelay/internal/core/service"
	"gpsrelay/internal/logging"
	"gpsrelay/internal/metrics"
)

func newTestRouter(t *testing.T) (http.Handler, *model.Device, *model.Position) {
	t.Helper()
	ctx := context.Background()

	devices := repository.NewInMemoryDeviceRepository()
	device := model.NewDevice("truck", "865205030330012")
	require.NoError(t, devices.Create(ctx, device))
	require.NoError(t, devices.UpdateReportStatus(ctx, device.UniqueID, model.ReportStatus{
		StandardLat: "2582860.123456",
		StandardLon: "12701855.654321",
		APIResult:   1,
		APITime:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}))

	positions := repository.NewInMemoryPositionRepository()
	position := model.NewPosition(device.ID, 22.6, 114.1)
	require.NoError(t, positions.Create(ctx, position))

	registry := metrics.NewRegistry()
	stats := metrics.NewStatistics(registry.Registerer())
	stats.RegisterMessageStored(device.ID, "h02")

	deviceService := service.NewDeviceService(devices)
	return NewRouter(Options{
		DeviceService:   deviceService,
		PositionService: service.NewPositionService(positions, deviceService),
		Statistics:      stats,
		Connections:     func() int { return 3 },
		Metrics:         registry.Handler(),
		Logger:          logging.Discard(),
	}), device, position
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestRouter(t)

	rec := serve(h, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(3), body["connections"])

	assert.Equal(t, http.StatusMethodNotAllowed, serve(h, http.MethodPost, "/health").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodOptions, "/health").Code)
}

func TestGetDevice(t *testing.T) {
	h, device, _ := newTestRouter(t)

	for _, id := range []string{device.ID, device.UniqueID} {
		rec := serve(h, http.MethodGet, "/api/devices/get?id="+id)
		require.Equal(t, http.StatusOK, rec.Code)

		var got model.Device
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, device.ID, got.ID)
		require.NotNil(t, got.Report)
		assert.Equal(t, 1, got.Report.APIResult)
		assert.Equal(t, "2582860.123456", got.Report.StandardLat)
	}

	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/api/devices/get?id=missing").Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodGet, "/api/devices/get").Code)
}

func TestPositions(t *testing.T) {
	h, device, position := newTestRouter(t)

	rec := serve(h, http.MethodGet, "/api/positions/latest?deviceId="+device.UniqueID)
	require.Equal(t, http.StatusOK, rec.Code)
	var latest model.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &latest))
	assert.Equal(t, position.ID, latest.ID)

	rec = serve(h, http.MethodGet, "/api/positions/list?deviceId="+device.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []model.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/api/positions/latest?deviceId=missing").Code)
}

func TestMetricsAndStatistics(t *testing.T) {
	h, _, _ := newTestRouter(t)

	rec := serve(h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `gpsrelay_messages_stored_total{protocol="h02"} 1`))

	rec = serve(h, http.MethodGet, "/api/statistics")
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot metrics.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, int64(1), snapshot.MessagesStored)
	assert.Equal(t, 1, snapshot.ActiveDevices)
}
