package router

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"gpsrelay/internal/api/handler"
	"gpsrelay/internal/api/middleware"
	"gpsrelay/internal/core/service"
	"gpsrelay/internal/metrics"
)

type StatisticsSource interface {
	Snapshot() metrics.Snapshot
}

type Options struct {
	DeviceService   service.DeviceService
	PositionService service.PositionService
	Statistics      StatisticsSource
	// Connections reports the number of live device connections.
	Connections func() int
	Metrics     http.Handler
	Logger      *slog.Logger
}

func NewRouter(opts Options) http.Handler {
	deviceHandler := handler.NewDeviceHandler(opts.DeviceService)
	positionHandler := handler.NewPositionHandler(opts.PositionService)
	logging := middleware.LoggingMiddleware(opts.Logger)

	mux := http.NewServeMux()

	withMiddleware := func(h http.Handler) http.Handler {
		return middleware.CORSMiddleware(logging(h))
	}
	get := func(fn http.HandlerFunc) http.Handler {
		return withMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}
			fn(w, r)
		}))
	}

	mux.Handle("/health", get(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{"status": "ok"}
		if opts.Connections != nil {
			body["connections"] = opts.Connections()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}))

	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}

	if opts.Statistics != nil {
		mux.Handle("/api/statistics", get(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(opts.Statistics.Snapshot())
		}))
	}

	mux.Handle("/api/devices/get", get(deviceHandler.GetDevice))
	mux.Handle("/api/positions/list", get(positionHandler.GetPositions))
	mux.Handle("/api/positions/latest", get(positionHandler.GetLatestPosition))

	return mux
}
