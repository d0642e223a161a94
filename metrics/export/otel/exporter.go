package otel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/FebinAugustine/dirauth"
	"github.com/FebinAugustine/dirauth/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

const (
	outcomeKey = attribute.Key("outcome")
	leKey      = attribute.Key("le")
)

type metricsSource interface {
	MetricsSnapshot() dirauth.MetricsSnapshot
	AuditDropped() uint64
}

// outcomePoint is one engine counter observed on its flow's instrument.
type outcomePoint struct {
	id    dirauth.MetricID
	attrs metric.ObserveOption
}

type flowInstrument struct {
	counter metric.Int64ObservableCounter
	points  []outcomePoint
}

// latencyInstrument reports a bucketed engine histogram as a cumulative
// gauge with one point per upper bound, plus a sample count.
type latencyInstrument struct {
	id      dirauth.MetricID
	buckets metric.Int64ObservableGauge
	bounds  []metric.ObserveOption
	count   metric.Int64ObservableCounter
}

// Exporter observes the engine snapshot on every collection. Flows become
// one counter each, named dirauth.<flow>, with an outcome attribute.
type Exporter struct {
	source       metricsSource
	flows        []flowInstrument
	latency      []latencyInstrument
	auditDropped metric.Int64ObservableCounter
	registration metric.Registration
}

func NewExporter(meter metric.Meter, engine *dirauth.Engine) (*Exporter, error) {
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
	var observables []metric.Observable

	byFlow := make(map[string]int)
	for _, def := range internaldefs.CounterDefs {
		i, ok := byFlow[def.Flow]
		if !ok {
			name := "dirauth." + def.Flow
			counter, err := meter.Int64ObservableCounter(name,
				metric.WithDescription("Outcomes of the "+def.Flow+" flow."),
				metric.WithUnit("{event}"),
			)
			if err != nil {
				return nil, fmt.Errorf("counter %s: %w", name, err)
			}
			i = len(e.flows)
			byFlow[def.Flow] = i
			e.flows = append(e.flows, flowInstrument{counter: counter})
			observables = append(observables, counter)
		}
		e.flows[i].points = append(e.flows[i].points, outcomePoint{
			id:    def.ID,
			attrs: metric.WithAttributeSet(attribute.NewSet(outcomeKey.String(def.Outcome))),
		})
	}

	for _, def := range internaldefs.HistogramDefs {
		l, err := newLatencyInstrument(meter, def)
		if err != nil {
			return nil, err
		}
		e.latency = append(e.latency, l)
		observables = append(observables, l.buckets, l.count)
	}

	dropped, err := meter.Int64ObservableCounter("dirauth.audit.dropped",
		metric.WithDescription("Audit events dropped under backpressure."),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("counter dirauth.audit.dropped: %w", err)
	}
	e.auditDropped = dropped
	observables = append(observables, dropped)

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func newLatencyInstrument(meter metric.Meter, def internaldefs.HistogramDef) (latencyInstrument, error) {
	base := "dirauth." + strings.TrimSuffix(strings.TrimPrefix(def.Name, "dirauth_"), "_seconds")
	base = strings.ReplaceAll(base, "_", ".")

	buckets, err := meter.Int64ObservableGauge(base+".bucket",
		metric.WithDescription(def.Help+" Cumulative samples at or below le seconds."),
		metric.WithUnit("{sample}"),
	)
	if err != nil {
		return latencyInstrument{}, fmt.Errorf("gauge %s.bucket: %w", base, err)
	}
	count, err := meter.Int64ObservableCounter(base+".count",
		metric.WithDescription(def.Help+" Total samples."),
		metric.WithUnit("{sample}"),
	)
	if err != nil {
		return latencyInstrument{}, fmt.Errorf("counter %s.count: %w", base, err)
	}

	bounds := make([]metric.ObserveOption, 0, len(internaldefs.HistogramUpperBounds)+1)
	for _, b := range internaldefs.HistogramUpperBounds {
		le := strconv.FormatFloat(b, 'f', -1, 64)
		bounds = append(bounds, metric.WithAttributeSet(attribute.NewSet(leKey.String(le))))
	}
	bounds = append(bounds, metric.WithAttributeSet(attribute.NewSet(leKey.String("+Inf"))))

	return latencyInstrument{id: def.ID, buckets: buckets, bounds: bounds, count: count}, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()

	for _, f := range e.flows {
		for _, p := range f.points {
			o.ObserveInt64(f.counter, int64(snapshot.Counters[p.id]), p.attrs)
		}
	}
	for _, l := range e.latency {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[l.id]))
		for i, opt := range l.bounds {
			o.ObserveInt64(l.buckets, int64(cumulative[i]), opt)
		}
		o.ObserveInt64(l.count, int64(cumulative[len(cumulative)-1]))
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the callback. Instruments stay on the meter but report
// nothing afterwards.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
