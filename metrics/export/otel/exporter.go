package otel

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	zerotrust "github.com/Meraviglioso8/ZeroTrust-DeepLearning"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// MetricsSource is read once per collection cycle. *zerotrust.Engine
// satisfies it.
type MetricsSource interface {
	MetricsSnapshot() zerotrust.MetricsSnapshot
	AuditDropped() uint64
}

type observedCounter struct {
	id         zerotrust.MetricID
	instrument metric.Int64ObservableCounter
}

// observedHistogram reports cumulative bucket counts as one gauge with an
// "le" attribute per bound, mirroring the Prometheus layout.
type observedHistogram struct {
	id      zerotrust.MetricID
	buckets metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
	les     []attribute.Set
}

// Exporter binds engine metrics to an OTel meter through observable
// instruments and a single callback.
type Exporter struct {
	source       MetricsSource
	registration metric.Registration
	counters     []observedCounter
	histograms   []observedHistogram
	auditDropped metric.Int64ObservableCounter
}

// NewExporter registers instruments on meter.
func NewExporter(meter metric.Meter, source MetricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &Exporter{source: source}
	observables := make([]metric.Observable, 0, len(internaldefs.CounterDefs)+2*len(internaldefs.HistogramDefs)+1)

	for _, def := range internaldefs.CounterDefs {
		name := internaldefs.FullName(def.Name)
		ins, err := meter.Int64ObservableCounter(name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", name, err)
		}
		exporter.counters = append(exporter.counters, observedCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	les := make([]attribute.Set, 0, len(internaldefs.HistogramBounds)+1)
	for _, b := range internaldefs.HistogramBounds {
		les = append(les, attribute.NewSet(attribute.String("le", strconv.FormatFloat(b, 'f', -1, 64))))
	}
	les = append(les, attribute.NewSet(attribute.String("le", "+Inf")))

	for _, def := range internaldefs.HistogramDefs {
		base := internaldefs.FullName(def.Name)
		buckets, err := meter.Int64ObservableGauge(base+"_bucket", metric.WithDescription(def.Help+" Cumulative bucket counts."), metric.WithUnit("s"))
		if err != nil {
			return nil, fmt.Errorf("create histogram bucket gauge %s: %w", base, err)
		}
		count, err := meter.Int64ObservableGauge(base+"_count", metric.WithDescription(def.Help+" Sample count."))
		if err != nil {
			return nil, fmt.Errorf("create histogram count gauge %s: %w", base, err)
		}
		exporter.histograms = append(exporter.histograms, observedHistogram{id: def.ID, buckets: buckets, count: count, les: les})
		observables = append(observables, buckets, count)
	}

	name := internaldefs.FullName(internaldefs.AuditDropped.Name)
	auditDropped, err := meter.Int64ObservableCounter(name, metric.WithDescription(internaldefs.AuditDropped.Help))
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	exporter.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	registration, err := meter.RegisterCallback(exporter.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	exporter.registration = registration
	return exporter, nil
}

func (e *Exporter) observe(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
	}
	for _, h := range e.histograms {
		raw, ok := snapshot.Histograms[h.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.Cumulative(raw)
		for i, set := range h.les {
			observer.ObserveInt64(h.buckets, int64(cumulative[i]), metric.WithAttributeSet(set))
		}
		observer.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
	}
	observer.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
