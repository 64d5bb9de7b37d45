package checkout

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/joao-fontenele/checkout-pipeline/internal/checkout"

var (
	tracer = otel.Tracer(instrumentationName)
	meter  = otel.Meter(instrumentationName)
)

type instruments struct {
	ordersPlaced     metric.Int64Counter
	paymentIntents   metric.Int64Counter
	paymentsVerified metric.Int64Counter
}

func newInstruments() *instruments {
	return &instruments{
		ordersPlaced:     counter("checkout.orders.placed", "Orders created from carts."),
		paymentIntents:   counter("checkout.payment_intents", "Payment intent creation attempts by result."),
		paymentsVerified: counter("checkout.payments.verified", "Payment callbacks by verification result."),
	}
}

func counter(name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		otel.Handle(err)
		return noop.Int64Counter{}
	}
	return c
}

func withResult(result string) metric.AddOption {
	return metric.WithAttributes(attribute.String("result", result))
}

// resultOf classifies err for metric attributes.
func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrExternalService):
		return "gateway_error"
	default:
		return "error"
	}
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func publish(ctx context.Context, publisher EventPublisher, logger *slog.Logger, topic, key string, event any) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, topic, key, event); err != nil {
		logger.Error("failed to publish event", "error", err, "topic", topic, "order_id", key)
	}
}
