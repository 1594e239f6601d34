package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/NicolasHaas/townhall/pkg/town"
	"github.com/NicolasHaas/townhall/pkg/version"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
// Metrics is a town.Observer so the registry feeds it directly.
type Metrics struct {
	startTime time.Time

	// Town lifecycle
	TownsCreated atomic.Int64
	TownsUpdated atomic.Int64
	TownsDeleted atomic.Int64
	AuthFailures atomic.Int64 // rejected update/delete/announcement attempts

	// Fanout
	Announcements         atomic.Int64
	NotificationsRouted   atomic.Int64
	NotificationsRejected atomic.Int64 // messages for unknown towns
	ListenerFaults        atomic.Int64 // listeners that panicked during fanout

	// Websocket listeners
	TotalConnections  atomic.Int64
	ActiveConnections atomic.Int64
	EventsDropped     atomic.Int64 // events dropped because a client's send buffer was full
}

var _ town.Observer = (*Metrics)(nil)

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

func (m *Metrics) TownCreated(*town.Controller) { m.TownsCreated.Add(1) }
func (m *Metrics) TownUpdated(*town.Controller) { m.TownsUpdated.Add(1) }
func (m *Metrics) TownDeleted(*town.Controller) { m.TownsDeleted.Add(1) }

func (m *Metrics) AuthorizationFailed(string, string) { m.AuthFailures.Add(1) }

func (m *Metrics) ListenerFault(string, string, any) { m.ListenerFaults.Add(1) }

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	TownsCreated int64 `json:"towns_created"`
	TownsUpdated int64 `json:"towns_updated"`
	TownsDeleted int64 `json:"towns_deleted"`
	AuthFailures int64 `json:"auth_failures"`

	Announcements         int64 `json:"announcements"`
	NotificationsRouted   int64 `json:"notifications_routed"`
	NotificationsRejected int64 `json:"notifications_rejected"`
	ListenerFaults        int64 `json:"listener_faults"`

	TotalConnections  int64 `json:"total_connections"`
	ActiveConnections int64 `json:"active_connections"`
	EventsDropped     int64 `json:"events_dropped"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:                uptime.Truncate(time.Second).String(),
		UptimeSeconds:         int64(uptime.Seconds()),
		TownsCreated:          m.TownsCreated.Load(),
		TownsUpdated:          m.TownsUpdated.Load(),
		TownsDeleted:          m.TownsDeleted.Load(),
		AuthFailures:          m.AuthFailures.Load(),
		Announcements:         m.Announcements.Load(),
		NotificationsRouted:   m.NotificationsRouted.Load(),
		NotificationsRejected: m.NotificationsRejected.Load(),
		ListenerFaults:        m.ListenerFaults.Load(),
		TotalConnections:      m.TotalConnections.Load(),
		ActiveConnections:     m.ActiveConnections.Load(),
		EventsDropped:         m.EventsDropped.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Collectors exposes the counters to Prometheus. towns reports the number
// of live towns at scrape time.
func (m *Metrics) Collectors(towns func() int) []prometheus.Collector {
	counter := func(name, help string, v *atomic.Int64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: "townhall", Name: name, Help: help},
			func() float64 { return float64(v.Load()) })
	}
	gauge := func(name, help string, f func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: "townhall", Name: name, Help: help}, f)
	}

	build := version.Get()
	return []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "townhall",
			Name:        "build_info",
			Help:        "Build version of the running server.",
			ConstLabels: prometheus.Labels{"version": build.String(), "commit": build.Commit, "date": build.Date},
		}, func() float64 { return 1 }),
		gauge("uptime_seconds", "Server uptime in seconds.", func() float64 { return time.Since(m.startTime).Seconds() }),
		gauge("towns_live", "Towns currently registered.", func() float64 { return float64(towns()) }),
		gauge("connections_active", "Current websocket listener connections.", func() float64 { return float64(m.ActiveConnections.Load()) }),

		counter("towns_created_total", "Towns created.", &m.TownsCreated),
		counter("towns_updated_total", "Successful town updates.", &m.TownsUpdated),
		counter("towns_deleted_total", "Towns deleted.", &m.TownsDeleted),
		counter("auth_failures_total", "Rejected town password checks.", &m.AuthFailures),
		counter("announcements_total", "Announcements fanned out.", &m.Announcements),
		counter("notifications_routed_total", "Chat notifications fanned out.", &m.NotificationsRouted),
		counter("notifications_rejected_total", "Chat notifications for unknown towns.", &m.NotificationsRejected),
		counter("listener_faults_total", "Listeners that panicked during fanout.", &m.ListenerFaults),
		counter("connections_total", "Lifetime websocket listener connections.", &m.TotalConnections),
		counter("events_dropped_total", "Events dropped for slow websocket clients.", &m.EventsDropped),
	}
}

// Register adds all collectors to reg.
func (m *Metrics) Register(reg prometheus.Registerer, towns func() int) error {
	for _, c := range m.Collectors(towns) {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"towns_created", s.TownsCreated,
		"towns_deleted", s.TownsDeleted,
		"connections", s.ActiveConnections,
		"notifications", s.NotificationsRouted,
		"announcements", s.Announcements,
		"listener_faults", s.ListenerFaults,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
