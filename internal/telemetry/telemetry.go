// Package telemetry exposes the engine's OpenTelemetry instruments.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/thebtf/bubbles"

// Metrics holds the counters recorded by the ingest pipeline. A zero value
// is unusable; construct with New.
type Metrics struct {
	commentsIngested metric.Int64Counter
	bubblesCreated   metric.Int64Counter
	providerFailures metric.Int64Counter
}

// New registers the pipeline instruments on the global meter provider.
func New() (*Metrics, error) {
	meter := otel.GetMeterProvider().Meter(meterName)

	ingested, err := meter.Int64Counter("bubbles.comments.ingested",
		metric.WithDescription("Comments successfully ingested"))
	if err != nil {
		return nil, err
	}
	created, err := meter.Int64Counter("bubbles.bubbles.created",
		metric.WithDescription("New bubbles created by clustering"))
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter("bubbles.provider.failures",
		metric.WithDescription("External provider call failures"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		commentsIngested: ingested,
		bubblesCreated:   created,
		providerFailures: failures,
	}, nil
}

// CommentIngested records one committed ingest for the given post.
func (m *Metrics) CommentIngested(ctx context.Context, postID string) {
	if m == nil {
		return
	}
	m.commentsIngested.Add(ctx, 1, metric.WithAttributes(attribute.String("post_id", postID)))
}

// BubbleCreated records one new bubble minted by an assignment decision.
func (m *Metrics) BubbleCreated(ctx context.Context, postID string) {
	if m == nil {
		return
	}
	m.bubblesCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("post_id", postID)))
}

// ProviderFailure records a failed embedding, labeling, or voting call.
func (m *Metrics) ProviderFailure(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.providerFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
