package goIdentity

import (
	"sort"
	"sync/atomic"
	"time"
)

// MetricID identifies a counter or histogram in the in-process metrics.
type MetricID uint16

const (
	// MetricLoginSuccess counts successful logins.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts rejected logins of any cause.
	MetricLoginFailure
	// MetricAccountLocked counts lock transitions caused by failed logins.
	MetricAccountLocked
	// MetricAccountUnlocked counts administrative unlocks.
	MetricAccountUnlocked
	// MetricSessionCreated counts sessions opened by login.
	MetricSessionCreated
	// MetricSessionEvicted counts sessions ended by a newer login of the same user.
	MetricSessionEvicted
	// MetricSessionTerminated counts sessions ended for any reason.
	MetricSessionTerminated
	// MetricSessionSwept counts sessions ended by the expiry sweep.
	MetricSessionSwept
	// MetricSessionValidateFailure counts ValidateSession calls that reported false.
	MetricSessionValidateFailure
	MetricLogout
	MetricLogoutAll
	MetricRefreshSuccess
	MetricRefreshFailure
	// MetricTokenRevoked counts tokens added to the revocation list.
	MetricTokenRevoked
	MetricOTPRequested
	MetricOTPVerified
	MetricOTPFailed
	// MetricOTPAccountLocked counts accounts locked by OTP abuse.
	MetricOTPAccountLocked
	MetricOTPDeliveryFailed
	MetricPasswordResetSuccess
	MetricPasswordResetFailure
	MetricPasswordChangeSuccess
	MetricPasswordChangeFailure
	MetricPermissionCacheHit
	MetricPermissionCacheMiss
	// MetricPermissionInvalidation counts permission cache invalidations of either scope.
	MetricPermissionInvalidation
	// MetricValidateLatency is the ValidateSession latency histogram.
	MetricValidateLatency
	metricIDCount
)

// LatencyBuckets are the inclusive upper bounds of the validate latency
// histogram. Samples above the last bound land in an extra overflow bucket.
var LatencyBuckets = []time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const latencySlots = 8

// counter sits alone on its cache line.
type counter struct {
	n atomic.Uint64
	_ [56]byte
}

// Metrics is the in-process counter set. A nil or disabled Metrics accepts
// every call and records nothing.
type Metrics struct {
	on      bool
	latency bool
	counts  [metricIDCount]counter
	slots   [latencySlots]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy read by the exporters. Histogram
// slices hold per-bucket counts, not running totals.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

func emptySnapshot() MetricsSnapshot {
	return MetricsSnapshot{Counters: map[MetricID]uint64{}, Histograms: map[MetricID][]uint64{}}
}

// NewMetrics returns a counter set. Latency is only recorded when counters
// are enabled too.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{on: cfg.Enabled, latency: cfg.Enabled && cfg.EnableLatencyHistograms}
}

func (m *Metrics) Enabled() bool { return m != nil && m.on }

// LatencyEnabled reports whether Observe records anything.
func (m *Metrics) LatencyEnabled() bool { return m != nil && m.latency }

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= metricIDCount {
		return
	}
	m.counts[id].n.Add(1)
}

// Observe records d. MetricValidateLatency is the only histogram; any other
// id is ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() || id != MetricValidateLatency {
		return
	}
	m.slots[latencySlot(d)].Add(1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counts[id].n.Load()
}

// Snapshot copies every counter and, when latency is on, the buckets.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := emptySnapshot()
	if !m.Enabled() {
		return s
	}
	for id := range m.counts {
		s.Counters[MetricID(id)] = m.counts[id].n.Load()
	}
	if m.latency {
		b := make([]uint64, latencySlots)
		for i := range m.slots {
			b[i] = m.slots[i].Load()
		}
		s.Histograms[MetricValidateLatency] = b
	}
	return s
}

func latencySlot(d time.Duration) int {
	return sort.Search(len(LatencyBuckets), func(i int) bool { return d <= LatencyBuckets[i] })
}
