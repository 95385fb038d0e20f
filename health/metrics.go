package health

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/opd-ai/phonecheck/sip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Status is a snapshot of the check counters.
type Status struct {
	ChecksSuccessful uint64 `json:"checks_successful"`
	ChecksFailed     uint64 `json:"checks_failed"`
	// LastCheckTime is a Unix timestamp, zero before the first check.
	LastCheckTime int64 `json:"last_check_time"`
	LastCheckOK   bool  `json:"last_check_ok"`
}

// Ready reports whether the service should be considered ready: before the
// first check, or when the last check passed.
func (s Status) Ready() bool {
	return s.LastCheckTime == 0 || s.LastCheckOK
}

// Metrics records check outcomes. Counters are updated with atomic
// operations so readers never block the checker; a reader may see a
// success count and a last_check_ok flag from different checks.
type Metrics struct {
	successful atomic.Uint64
	failed     atomic.Uint64
	lastTime   atomic.Int64
	lastOK     atomic.Bool
	now        func() time.Time

	registry     *prometheus.Registry
	checks       *prometheus.CounterVec
	lastCheckTS  prometheus.Gauge
	lastCheckOK  prometheus.Gauge
	sipStatus    *prometheus.CounterVec
	callDuration prometheus.Histogram
	rtpPackets   *prometheus.CounterVec
}

// NewMetrics creates counters registered in their own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		now:      time.Now,
		registry: reg,
		checks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "phonecheck_checks_total",
			Help: "Total number of checks performed",
		}, []string{"result"}),
		lastCheckTS: factory.NewGauge(prometheus.GaugeOpts{
			Name: "phonecheck_last_check_timestamp",
			Help: "Unix timestamp of last check",
		}),
		lastCheckOK: factory.NewGauge(prometheus.GaugeOpts{
			Name: "phonecheck_last_check_ok",
			Help: "Whether the last check succeeded (1) or failed (0)",
		}),
		sipStatus: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "phonecheck_sip_final_status_total",
			Help: "Final INVITE responses by status code",
		}, []string{"status"}),
		callDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "phonecheck_call_duration_seconds",
			Help:    "Wall-clock duration of call attempts",
			Buckets: []float64{0.5, 1, 2, 5, 10, 15, 20, 30, 45, 60},
		}),
		rtpPackets: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "phonecheck_rtp_packets_total",
			Help: "RTP packets seen by the receiver, by outcome",
		}, []string{"outcome"}),
	}
	m.lastOK.Store(true)
	m.checks.WithLabelValues("success")
	m.checks.WithLabelValues("failure")
	m.lastCheckOK.Set(1)
	return m
}

// RecordSuccess counts a passing check.
func (m *Metrics) RecordSuccess() {
	m.successful.Add(1)
	m.record(true)
	m.checks.WithLabelValues("success").Inc()
}

// RecordFailure counts a failing check.
func (m *Metrics) RecordFailure() {
	m.failed.Add(1)
	m.record(false)
	m.checks.WithLabelValues("failure").Inc()
}

func (m *Metrics) record(ok bool) {
	ts := m.now().Unix()
	m.lastTime.Store(ts)
	m.lastOK.Store(ok)
	m.lastCheckTS.Set(float64(ts))
	if ok {
		m.lastCheckOK.Set(1)
	} else {
		m.lastCheckOK.Set(0)
	}
}

// ObserveCall records the SIP and RTP details of one call attempt.
func (m *Metrics) ObserveCall(res *sip.CallResult) {
	if res == nil {
		return
	}
	status := "none"
	if res.SIPStatus != 0 {
		status = strconv.Itoa(res.SIPStatus)
	}
	m.sipStatus.WithLabelValues(status).Inc()
	m.callDuration.Observe(res.Duration.Seconds())
	m.rtpPackets.WithLabelValues("output").Add(float64(res.RTP.Jitter.Output))
	m.rtpPackets.WithLabelValues("dropped").Add(float64(res.RTP.Jitter.Dropped))
	m.rtpPackets.WithLabelValues("lost").Add(float64(res.RTP.Jitter.Lost))
}

// Status returns a snapshot of the counters.
func (m *Metrics) Status() Status {
	return Status{
		ChecksSuccessful: m.successful.Load(),
		ChecksFailed:     m.failed.Load(),
		LastCheckTime:    m.lastTime.Load(),
		LastCheckOK:      m.lastOK.Load(),
	}
}

// LastCheckOK reports whether the last check passed; true before the first.
func (m *Metrics) LastCheckOK() bool {
	return m.lastOK.Load()
}

// Registry returns the Prometheus registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
