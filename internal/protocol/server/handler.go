// Package server hosts the device-facing transports. Every transport feeds
// frames through a Handler, which decodes them, resolves the sending device
// and hands positions to the dispatcher.
package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"gpsrelay/internal/core/lifecycle"
	"gpsrelay/internal/core/model"
)

// Decoder turns one frame into the sender's unique id and, when the frame
// carries a fix, a position with an empty DeviceID.
type Decoder interface {
	Protocol() string
	Decode(frame []byte) (uniqueID string, position *model.Position, err error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, conn lifecycle.Conn, position *model.Position) error
}

type DeviceResolver interface {
	FindByUniqueID(ctx context.Context, uniqueID string) (*model.Device, error)
}

type Handler struct {
	decoder      Decoder
	devices      DeviceResolver
	dispatcher   Dispatcher
	tracker      *lifecycle.Tracker
	storeTimeout time.Duration
	logger       *slog.Logger
}

func NewHandler(decoder Decoder, devices DeviceResolver, dispatcher Dispatcher, tracker *lifecycle.Tracker, storeTimeout time.Duration, logger *slog.Logger) *Handler {
	return &Handler{
		decoder:      decoder,
		devices:      devices,
		dispatcher:   dispatcher,
		tracker:      tracker,
		storeTimeout: storeTimeout,
		logger:       logger.With("component", "server", "protocol", decoder.Protocol()),
	}
}

func (h *Handler) Protocol() string {
	return h.decoder.Protocol()
}

// session is the per-connection (or per-peer) view of the handler. It
// remembers which device ids have already been resolved.
type session struct {
	conn    lifecycle.Conn
	devices map[string]string
}

func newSession(conn lifecycle.Conn) *session {
	return &session{conn: conn, devices: make(map[string]string)}
}

// handle processes one frame. Frames on a session are handled in order.
func (h *Handler) handle(ctx context.Context, s *session, frame []byte) {
	h.tracker.Touch(s.conn.ID())

	uniqueID, position, err := h.decoder.Decode(frame)
	if err != nil {
		h.logger.Warn(s.conn.Tag()+" failed to decode frame", "conn", s.conn.ID(), "error", err)
		return
	}

	deviceID, ok := h.resolve(ctx, s, uniqueID)
	if !ok || position == nil {
		return
	}

	position.DeviceID = deviceID
	// Dispatch logs its own failures.
	_ = h.dispatcher.Dispatch(ctx, s.conn, position)
}

func (h *Handler) resolve(ctx context.Context, s *session, uniqueID string) (string, bool) {
	if id, ok := s.devices[uniqueID]; ok {
		return id, true
	}

	ctx, cancel := context.WithTimeout(ctx, h.storeTimeout)
	defer cancel()
	device, err := h.devices.FindByUniqueID(ctx, uniqueID)
	if err != nil {
		h.logger.Warn(s.conn.Tag()+" unknown device", "conn", s.conn.ID(), "uniqueId", uniqueID, "error", err)
		return "", false
	}

	s.devices[uniqueID] = device.ID
	h.tracker.BindDevice(s.conn.ID(), device.ID)
	return device.ID, true
}

// connID returns a fresh connection id and its short log tag.
func connID() (string, string) {
	id := uuid.NewString()
	return id, "[" + id[:8] + "]"
}
