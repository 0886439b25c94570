package engine

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rcliao/reflex/internal/gate"
	"github.com/rcliao/reflex/internal/model"
	reflexotel "github.com/rcliao/reflex/internal/otel"
)

const meterName = "github.com/rcliao/reflex/internal/engine"

var tracer = reflexotel.Tracer(meterName)

var (
	turnCounter    metric.Int64Counter
	latencyHist    metric.Float64Histogram
	deniedCounter  metric.Int64Counter
	learnedCounter metric.Int64Counter
	metricsOnce    sync.Once
	metricsReady   bool
)

func initMetrics() {
	meter := otel.Meter(meterName)
	var err error
	if turnCounter, err = meter.Int64Counter("reflex.turns",
		metric.WithDescription("Turns served, by stage")); err != nil {
		return
	}
	if latencyHist, err = meter.Float64Histogram("reflex.turn.latency",
		metric.WithDescription("Turn latency"),
		metric.WithUnit("ms")); err != nil {
		return
	}
	if deniedCounter, err = meter.Int64Counter("reflex.gate.denied",
		metric.WithDescription("Reflex candidates denied by the admission gate")); err != nil {
		return
	}
	if learnedCounter, err = meter.Int64Counter("reflex.learned",
		metric.WithDescription("Patterns learned from fallback answers")); err != nil {
		return
	}
	metricsReady = true
}

func recordTurn(ctx context.Context, stage model.Stage, latency time.Duration) {
	metricsOnce.Do(initMetrics)
	if !metricsReady {
		return
	}
	attrs := metric.WithAttributes(attribute.String("stage", string(stage)))
	turnCounter.Add(ctx, 1, attrs)
	latencyHist.Record(ctx, float64(latency)/float64(time.Millisecond), attrs)
}

func recordDenied(ctx context.Context, reason gate.Reason) {
	metricsOnce.Do(initMetrics)
	if !metricsReady {
		return
	}
	deniedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
}

func recordLearned(ctx context.Context, category model.Category) {
	metricsOnce.Do(initMetrics)
	if !metricsReady {
		return
	}
	learnedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("category", string(category))))
}
