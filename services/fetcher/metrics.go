package fetcher

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("services/fetcher")

var subjectCounter, _ = meter.Int64Counter(
	"tradereg.subjects",
	metric.WithDescription("subjects fetched, by final status"),
)
var subjectDuration, _ = meter.Float64Histogram(
	"tradereg.subject.duration",
	metric.WithDescription("time spent on one subject"),
	metric.WithUnit("s"),
)

func recordSubject(ctx context.Context, report Report) {
	status := metric.WithAttributes(attribute.String("status", string(report.Status)))
	subjectCounter.Add(ctx, 1, status)
	subjectDuration.Record(ctx, report.Duration.Seconds(), status)
}
