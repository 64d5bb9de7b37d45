package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/checkout-pipeline/internal/domain"
)

// Reconciler applies signed payment callbacks from the gateway.
type Reconciler struct {
	store     Store
	verifier  SignatureVerifier
	publisher EventPublisher
	logger    *slog.Logger
	now       func() time.Time
	metrics   *instruments
}

func NewReconciler(store Store, verifier SignatureVerifier, publisher EventPublisher, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:     store,
		verifier:  verifier,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		metrics:   newInstruments(),
	}
}

// VerifyAndApply checks signature over gatewayOrderRef and paymentRef. A bad,
// malformed or missing signature returns false with no state change. A good
// one moves the matching CREATED order to PAID and records paymentRef. Replaying a callback that was
// already applied returns true without changing anything.
func (r *Reconciler) VerifyAndApply(ctx context.Context, gatewayOrderRef, paymentRef, signature string) (bool, error) {
	ctx, span := tracer.Start(ctx, "checkout.VerifyAndApply", trace.WithAttributes(
		attribute.String("payment.gateway_order_ref", gatewayOrderRef),
	))
	defer span.End()

	if gatewayOrderRef == "" || paymentRef == "" {
		err := fmt.Errorf("%w: gateway order ref and payment ref are required", ErrInvalidInput)
		r.metrics.paymentsVerified.Add(ctx, 1, withResult(resultOf(err)))
		recordError(span, err)
		return false, err
	}

	if !r.verifier.Verify(gatewayOrderRef, paymentRef, signature) {
		r.metrics.paymentsVerified.Add(ctx, 1, withResult("bad_signature"))
		r.logger.Warn("payment signature rejected", "gateway_order_ref", gatewayOrderRef)
		span.SetAttributes(attribute.Bool("payment.verified", false))
		return false, nil
	}

	var paid *domain.Order
	err := r.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		order, err := tx.LockOrderByGatewayRef(ctx, gatewayOrderRef)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if order == nil {
			return fmt.Errorf("%w: no order for gateway ref %s", ErrNotFound, gatewayOrderRef)
		}

		if order.Status.IsPaid() {
			if order.GatewayPaymentRef == paymentRef {
				return nil
			}
			return fmt.Errorf("%w: order %s already paid with a different payment", ErrInvalidState, order.ID)
		}
		if order.Status != domain.OrderStatusCreated {
			return fmt.Errorf("%w: order %s in status %s cannot be paid", ErrInvalidState, order.ID, order.Status)
		}

		order.Status = domain.OrderStatusPaid
		order.GatewayPaymentRef = paymentRef
		if err := tx.SaveOrderState(ctx, order); err != nil {
			return fmt.Errorf("save order: %w", err)
		}
		paid = order
		return nil
	})
	r.metrics.paymentsVerified.Add(ctx, 1, withResult(resultOf(err)))
	if err != nil {
		recordError(span, err)
		return false, err
	}

	span.SetAttributes(attribute.Bool("payment.verified", true))
	if paid == nil {
		r.logger.Info("payment callback replayed", "gateway_order_ref", gatewayOrderRef)
		return true, nil
	}

	r.logger.Info("order paid", "order_id", paid.ID, "gateway_order_ref", gatewayOrderRef)
	publish(ctx, r.publisher, r.logger, domain.TopicOrderPaid, paid.ID, domain.OrderPaidEvent{
		OrderID:    paid.ID,
		UserID:     paid.UserID,
		Total:      paid.Total,
		PaymentRef: paymentRef,
		Timestamp:  r.now().UTC(),
	})
	return true, nil
}
