package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gpsrelay/internal/core/format"
	"gpsrelay/internal/core/lifecycle"
	"gpsrelay/internal/core/model"
	"gpsrelay/internal/core/repository"
	"gpsrelay/internal/events"
	"gpsrelay/internal/geo"
	"gpsrelay/internal/sink"
	"gpsrelay/internal/worker"
)

// ErrUnknownDevice aborts the dispatch of a single position.
var ErrUnknownDevice = errors.New("unknown device")

// Reporter schedules a sink call off the caller's goroutine.
type Reporter interface {
	Submit(r sink.Report) (*worker.Future[struct{}], error)
}

// Sessions is the part of the lifecycle tracker the dispatcher relies on.
type Sessions interface {
	Alive(connID string) bool
	BindDevice(connID, deviceID string)
}

type Statistics interface {
	RegisterMessageStored(deviceID, protocol string)
	RegisterReport(success bool)
}

type PositionWriter interface {
	Create(ctx context.Context, position *model.Position) error
}

// Dependencies wires a Dispatcher. Positions, Events and Battery are optional.
type Dependencies struct {
	Devices    repository.DeviceStore
	Positions  PositionWriter
	Reporter   Reporter
	Sessions   Sessions
	Statistics Statistics
	Events     events.Publisher
	Battery    BatteryEstimator
	Formatter  *format.Formatter
	Logger     *slog.Logger

	StoreTimeout time.Duration
	SinkTimeout  time.Duration
}

// Dispatcher turns each decoded position into its side effects: history and
// latest-position update, log line, projection, sink report, status
// write-back and statistics. One instance serves every connection.
type Dispatcher struct {
	devices    repository.DeviceStore
	positions  PositionWriter
	reporter   Reporter
	sessions   Sessions
	stats      Statistics
	events     events.Publisher
	battery    BatteryEstimator
	formatter  *format.Formatter
	logger     *slog.Logger
	storeLimit time.Duration
	sinkLimit  time.Duration
	now        func() time.Time
}

func NewDispatcher(deps Dependencies) *Dispatcher {
	d := &Dispatcher{
		devices:    deps.Devices,
		positions:  deps.Positions,
		reporter:   deps.Reporter,
		sessions:   deps.Sessions,
		stats:      deps.Statistics,
		events:     deps.Events,
		battery:    deps.Battery,
		formatter:  deps.Formatter,
		logger:     deps.Logger.With("component", "dispatcher"),
		storeLimit: deps.StoreTimeout,
		sinkLimit:  deps.SinkTimeout,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if d.events == nil {
		d.events = events.Nop()
	}
	if d.storeLimit <= 0 {
		d.storeLimit = 5 * time.Second
	}
	if d.sinkLimit <= 0 {
		d.sinkLimit = 5 * time.Second
	}
	return d
}

// Dispatch processes one position received on conn. Calls for the same
// connection must not overlap. Only an unknown device is returned as an
// error; every other failure is logged and recorded in the outcome.
// Cancelling ctx does not cut short a dispatch already in progress.
func (d *Dispatcher) Dispatch(ctx context.Context, conn lifecycle.Conn, position *model.Position) error {
	// Once started, store and sink calls run to completion under their own
	// timeouts; a torn-down connection only discards the outcome.
	ctx = context.WithoutCancel(ctx)
	logger := d.logger.With("conn", conn.ID(), "device", position.DeviceID)

	d.storeLatest(ctx, logger, position)

	device, err := d.lookup(ctx, position.DeviceID)
	if err != nil {
		logger.Warn(conn.Tag()+" dropping position", "error", err)
		return fmt.Errorf("%w: %s: %v", ErrUnknownDevice, position.DeviceID, err)
	}
	logger = logger.With("uniqueId", device.UniqueID)
	if d.sessions != nil {
		d.sessions.BindDevice(conn.ID(), device.ID)
	}

	line := d.formatter.Format(conn.Tag(), device.UniqueID, position)

	outcome := &model.ReportOutcome{
		DeviceID: device.ID,
		UniqueID: device.UniqueID,
		Protocol: position.Protocol,
	}
	if d.battery != nil {
		if percent, ok := d.battery.Estimate(position); ok {
			outcome.Battery = &percent
		}
	}

	x, y, err := geo.ToProjected(position.Latitude, position.Longitude)
	if err != nil {
		logger.Warn(conn.Tag()+" projection failed, report skipped", "error", err,
			"lat", position.Latitude, "lon", position.Longitude)
	} else {
		outcome.Projected = true
		outcome.ProjectedLat = y
		outcome.ProjectedLon = x
		outcome.Success = d.report(ctx, logger, conn, sink.Report{
			DeviceID:     device.ID,
			UniqueID:     device.UniqueID,
			ProjectedLat: y,
			ProjectedLon: x,
			Speed:        position.Speed,
		})
	}
	outcome.Timestamp = d.now()

	if d.sessions == nil || d.sessions.Alive(conn.ID()) {
		d.writeBack(ctx, logger, position, outcome)
	} else {
		logger.Debug(conn.Tag()+" connection closed, report outcome discarded", "success", outcome.Success)
	}

	logger.Info(line)

	if d.stats != nil {
		d.stats.RegisterMessageStored(device.ID, position.Protocol)
		d.stats.RegisterReport(outcome.Success)
	}
	return nil
}

func (d *Dispatcher) storeLatest(ctx context.Context, logger *slog.Logger, position *model.Position) {
	ctx, cancel := context.WithTimeout(ctx, d.storeLimit)
	defer cancel()

	if d.positions != nil {
		if err := d.positions.Create(ctx, position); err != nil {
			logger.Warn("failed to store position", "error", err)
		}
	}
	if err := d.devices.UpdateLatestPosition(ctx, position); err != nil {
		logger.Warn("failed to update latest position", "error", err)
	}
}

func (d *Dispatcher) lookup(ctx context.Context, deviceID string) (*model.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, d.storeLimit)
	defer cancel()
	return d.devices.FindByID(ctx, deviceID)
}

// report submits the sink call and joins it within the sink timeout.
func (d *Dispatcher) report(ctx context.Context, logger *slog.Logger, conn lifecycle.Conn, r sink.Report) bool {
	future, err := d.reporter.Submit(r)
	if err != nil {
		logger.Warn(conn.Tag()+" report not scheduled", "error", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, d.sinkLimit)
	defer cancel()
	if _, err := future.Await(ctx); err != nil {
		logger.Warn(conn.Tag()+" report failed", "error", err)
		return false
	}
	return true
}

func (d *Dispatcher) writeBack(ctx context.Context, logger *slog.Logger, position *model.Position, outcome *model.ReportOutcome) {
	status := model.ReportStatus{
		Longitude: position.Longitude,
		Latitude:  position.Latitude,
		APIResult: outcome.APIFlag(),
		APITime:   outcome.Timestamp,
		Battery:   outcome.Battery,
	}
	if outcome.Projected {
		status.StandardLat = geo.FormatProjected(outcome.ProjectedLat)
		status.StandardLon = geo.FormatProjected(outcome.ProjectedLon)
	}

	storeCtx, cancel := context.WithTimeout(ctx, d.storeLimit)
	defer cancel()
	if err := d.devices.UpdateReportStatus(storeCtx, outcome.UniqueID, status); err != nil {
		logger.Warn("failed to write report status", "error", err)
	}

	if err := d.events.Publish(storeCtx, outcome); err != nil {
		logger.Warn("failed to publish report outcome", "error", err)
	}
}
