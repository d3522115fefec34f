package session

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the session's prometheus collectors
type Metrics struct {
	LeaseOps      *prometheus.CounterVec // op=GET|RENEW|RELEASE, result=rigerr code
	LeaseHeld     prometheus.Gauge
	CacheLookups  *prometheus.CounterVec // class=FREQ|MODE|WIDTH, result=hit|miss
	QueueDepth    prometheus.Gauge
	QueueOverflow prometheus.Counter
	KeyedBytes    prometheus.Counter
	DeviceLatency *prometheus.HistogramVec // op=get_freq|set_freq|...
	DeviceErrors  *prometheus.CounterVec   // op
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LeaseOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rigsession_lease_ops_total",
				Help: "Lease operations by op and result",
			},
			[]string{"op", "result"},
		),
		LeaseHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rigsession_lease_held",
			Help: "1 while a lease is held",
		}),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rigsession_cache_lookups_total",
				Help: "Cache lookups by class and result",
			},
			[]string{"class", "result"},
		),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rigsession_queue_depth_bytes",
			Help: "Bytes waiting in the keyer queue",
		}),
		QueueOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rigsession_queue_overflow_total",
			Help: "Morse submissions rejected because the queue was full",
		}),
		KeyedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rigsession_keyed_bytes_total",
			Help: "Bytes handed from the queue to the radio keyer",
		}),
		DeviceLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rigsession_device_latency_ms",
				Help:    "Latency of radio transactions (ms)",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1ms .. ~2048ms
			},
			[]string{"op"},
		),
		DeviceErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rigsession_device_errors_total",
				Help: "Failed radio transactions by op",
			},
			[]string{"op"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.LeaseOps,
			m.LeaseHeld,
			m.CacheLookups,
			m.QueueDepth,
			m.QueueOverflow,
			m.KeyedBytes,
			m.DeviceLatency,
			m.DeviceErrors,
		)
	}

	return m
}

func (m *Metrics) observeDevice(op string, start time.Time, err error) {
	m.DeviceLatency.WithLabelValues(op).Observe(float64(time.Since(start).Microseconds()) / 1000)
	if err != nil {
		m.DeviceErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) cacheLookup(class string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(class, result).Inc()
}
