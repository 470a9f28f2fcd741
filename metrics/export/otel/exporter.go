package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	goIdentity "github.com/MrEthical07/goIdentity"
	"github.com/MrEthical07/goIdentity/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() goIdentity.MetricsSnapshot
	AuditDropped() uint64
}

// reading is resolved against one snapshot per collection.
type reading struct {
	instrument metric.Int64Observable
	value      func(goIdentity.MetricsSnapshot) (int64, bool)
}

// Exporter publishes engine counters through an OTel meter. Histograms are
// flattened into one cumulative gauge per bucket plus a count gauge since
// asynchronous instruments cannot carry a distribution.
type Exporter struct {
	source       metricsSource
	readings     []reading
	registration metric.Registration
}

func NewExporter(meter metric.Meter, engine *goIdentity.Engine) (*Exporter, error) {
	return NewExporterFromSource(meter, engine)
}

func NewExporterFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}
	e := &Exporter{source: source}

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("otel counter %s: %w", def.Name, err)
		}
		id := def.ID
		e.add(ins, func(s goIdentity.MetricsSnapshot) (int64, bool) {
			return int64(s.Counters[id]), true
		})
	}

	for _, def := range internaldefs.HistogramDefs {
		if err := e.addHistogram(meter, def); err != nil {
			return nil, err
		}
	}

	dropped, err := meter.Int64ObservableCounter(internaldefs.AuditDroppedName, metric.WithDescription(internaldefs.AuditDroppedHelp))
	if err != nil {
		return nil, fmt.Errorf("otel counter %s: %w", internaldefs.AuditDroppedName, err)
	}
	e.add(dropped, func(goIdentity.MetricsSnapshot) (int64, bool) {
		return int64(source.AuditDropped()), true
	})

	instruments := make([]metric.Observable, len(e.readings))
	for i, r := range e.readings {
		instruments[i] = r.instrument
	}
	reg, err := meter.RegisterCallback(e.observe, instruments...)
	if err != nil {
		return nil, fmt.Errorf("otel register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

func (e *Exporter) add(ins metric.Int64Observable, value func(goIdentity.MetricsSnapshot) (int64, bool)) {
	e.readings = append(e.readings, reading{instrument: ins, value: value})
}

func (e *Exporter) addHistogram(meter metric.Meter, def internaldefs.HistogramDef) error {
	id := def.ID
	last := len(internaldefs.HistogramBoundSuffix) - 1
	for i, suffix := range internaldefs.HistogramBoundSuffix {
		name := def.Name + "_bucket_le_" + suffix
		ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative bucket count of "+def.Name+"."))
		if err != nil {
			return fmt.Errorf("otel gauge %s: %w", name, err)
		}
		slot := i
		e.add(ins, func(s goIdentity.MetricsSnapshot) (int64, bool) {
			raw, ok := s.Histograms[id]
			if !ok {
				return 0, false
			}
			return int64(internaldefs.Cumulative(raw)[slot]), true
		})
	}
	count, err := meter.Int64ObservableGauge(def.Name+"_count", metric.WithDescription("Sample count of "+def.Name+"."))
	if err != nil {
		return fmt.Errorf("otel gauge %s_count: %w", def.Name, err)
	}
	e.add(count, func(s goIdentity.MetricsSnapshot) (int64, bool) {
		raw, ok := s.Histograms[id]
		if !ok {
			return 0, false
		}
		return int64(internaldefs.Cumulative(raw)[last]), true
	})
	return nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, r := range e.readings {
		if v, ok := r.value(snapshot); ok {
			o.ObserveInt64(r.instrument, v)
		}
	}
	return nil
}

// Close unregisters the callback. The meter provider stays with the caller.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
