package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Statistics counts stored messages and forwarding results, and tracks the
// distinct devices seen in the current window.
type Statistics struct {
	messagesStored *prometheus.CounterVec
	reports        *prometheus.CounterVec
	activeDevices  prometheus.Gauge
	connections    prometheus.Gauge

	mu          sync.Mutex
	devices     map[string]struct{}
	messages    int64
	windowStart time.Time
}

// Snapshot is the statistics of one window.
type Snapshot struct {
	Start          time.Time `json:"start"`
	MessagesStored int64     `json:"messagesStored"`
	ActiveDevices  int       `json:"activeDevices"`
}

func NewStatistics(reg prometheus.Registerer) *Statistics {
	s := &Statistics{
		messagesStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpsrelay_messages_stored_total",
			Help: "Positions fully dispatched, by protocol",
		}, []string{"protocol"}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gpsrelay_reports_total",
			Help: "Reporting sink attempts, by result",
		}, []string{"result"}),
		activeDevices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpsrelay_active_devices",
			Help: "Distinct devices that stored a message in the current window",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gpsrelay_connections",
			Help: "Live transport connections",
		}),
		devices:     make(map[string]struct{}),
		windowStart: time.Now().UTC(),
	}
	reg.MustRegister(s.messagesStored, s.reports, s.activeDevices, s.connections)
	return s
}

// RegisterMessageStored records one dispatched message for the device and protocol.
func (s *Statistics) RegisterMessageStored(deviceID, protocol string) {
	s.messagesStored.WithLabelValues(protocol).Inc()

	s.mu.Lock()
	s.messages++
	s.devices[deviceID] = struct{}{}
	active := len(s.devices)
	s.mu.Unlock()

	s.activeDevices.Set(float64(active))
}

func (s *Statistics) RegisterReport(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	s.reports.WithLabelValues(result).Inc()
}

func (s *Statistics) SetConnections(n int) {
	s.connections.Set(float64(n))
}

func (s *Statistics) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Start:          s.windowStart,
		MessagesStored: s.messages,
		ActiveDevices:  len(s.devices),
	}
}

// Rotate closes the current window and returns its snapshot.
func (s *Statistics) Rotate() Snapshot {
	s.mu.Lock()
	snapshot := Snapshot{
		Start:          s.windowStart,
		MessagesStored: s.messages,
		ActiveDevices:  len(s.devices),
	}
	s.devices = make(map[string]struct{})
	s.messages = 0
	s.windowStart = time.Now().UTC()
	s.mu.Unlock()

	s.activeDevices.Set(0)
	return snapshot
}
