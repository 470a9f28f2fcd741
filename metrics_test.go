package goIdentity

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledRecordsNothing(t *testing.T) {
	var nilMetrics *Metrics
	nilMetrics.Inc(MetricLoginSuccess)

	m := NewMetrics(MetricsConfig{Enabled: false, EnableLatencyHistograms: true})
	m.Inc(MetricLoginSuccess)
	m.Observe(MetricValidateLatency, time.Millisecond)

	if m.Value(MetricLoginSuccess) != 0 || m.LatencyEnabled() {
		t.Fatal("disabled metrics must not record")
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestMetricsConcurrentInc(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 2500; j++ {
				m.Inc(MetricRefreshSuccess)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricRefreshSuccess); got != 40000 {
		t.Fatalf("expected 40000, got %d", got)
	}
	m.Inc(metricIDCount)
	if m.Value(metricIDCount) != 0 {
		t.Fatal("out of range id must be ignored")
	}
}

func TestLatencySlotBoundaries(t *testing.T) {
	cases := []struct {
		d    time.Duration
		slot int
	}{
		{0, 0},
		{5 * time.Millisecond, 0},
		{5*time.Millisecond + 1, 1},
		{25 * time.Millisecond, 2},
		{499 * time.Millisecond, 6},
		{500 * time.Millisecond, 6},
		{time.Second, 7},
	}
	for _, tc := range cases {
		if got := latencySlot(tc.d); got != tc.slot {
			t.Errorf("latencySlot(%v) = %d, want %d", tc.d, got, tc.slot)
		}
	}
}

func TestSnapshotCarriesLatencyOnlyWhenEnabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricValidateLatency, time.Millisecond)
	if _, ok := m.Snapshot().Histograms[MetricValidateLatency]; ok {
		t.Fatal("histogram must be absent when latency is off")
	}

	m = NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Inc(MetricLoginFailure)
	m.Inc(MetricLoginFailure)
	m.Observe(MetricValidateLatency, 2*time.Millisecond)
	m.Observe(MetricValidateLatency, 2*time.Second)
	m.Observe(MetricLoginFailure, time.Millisecond)

	snap := m.Snapshot()
	if snap.Counters[MetricLoginFailure] != 2 || snap.Counters[MetricLoginSuccess] != 0 {
		t.Fatalf("unexpected counters %v", snap.Counters)
	}
	b := snap.Histograms[MetricValidateLatency]
	if len(b) != len(LatencyBuckets)+1 || b[0] != 1 || b[len(b)-1] != 1 {
		t.Fatalf("unexpected buckets %v", b)
	}
	if len(snap.Histograms) != 1 {
		t.Fatal("only the validate latency histogram exists")
	}
}
