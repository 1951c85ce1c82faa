package governor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sortie"

// Metrics exposes the governor state to Prometheus. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	active    prometheus.Gauge
	capacity  prometheus.Gauge
	wait      prometheus.Histogram
	load      *prometheus.GaugeVec
	zone      *prometheus.GaugeVec
	launches  *prometheus.CounterVec
	deferrals *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "governor",
			Name:      "active_missions",
			Help:      "Missions currently holding an execution slot.",
		}),
		capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "governor",
			Name:      "capacity",
			Help:      "Maximum number of concurrently executing missions.",
		}),
		wait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "governor",
			Name:      "acquire_wait_seconds",
			Help:      "Time spent waiting for an execution slot.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		load: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "governor",
			Name:      "load_percent",
			Help:      "Last sampled system load.",
		}, []string{"resource"}),
		zone: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "governor",
			Name:      "zone",
			Help:      "1 for the current load zone, 0 for the others.",
		}, []string{"zone"}),
		launches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "governor",
			Name:      "launches_total",
			Help:      "Missions launched by resume passes.",
		}, []string{"mode"}),
		deferrals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "governor",
			Name:      "deferrals_total",
			Help:      "Resume passes that launched nothing, by reason.",
		}, []string{"reason"}),
	}

	collectors := []prometheus.Collector{m.active, m.capacity, m.wait, m.load, m.zone, m.launches, m.deferrals}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) setActive(n int) {
	if m == nil {
		return
	}

	m.active.Set(float64(n))
}

func (m *Metrics) setCapacity(n int) {
	if m == nil {
		return
	}

	m.capacity.Set(float64(n))
}

func (m *Metrics) observeWait(d time.Duration) {
	if m == nil {
		return
	}

	m.wait.Observe(d.Seconds())
}

func (m *Metrics) observeLoad(load Load) {
	if m == nil {
		return
	}

	m.load.WithLabelValues("cpu").Set(load.CPU)
	m.load.WithLabelValues("ram").Set(load.RAM)

	current := load.Zone()
	for _, z := range []Zone{ZoneGreen, ZoneYellow, ZoneRed} {
		value := 0.0
		if z == current {
			value = 1
		}

		m.zone.WithLabelValues(string(z)).Set(value)
	}
}

func (m *Metrics) launched(mode Mode) {
	if m == nil {
		return
	}

	m.launches.WithLabelValues(string(mode)).Inc()
}

func (m *Metrics) deferred(reason string) {
	if m == nil {
		return
	}

	m.deferrals.WithLabelValues(reason).Inc()
}
