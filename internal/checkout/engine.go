package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/checkout-pipeline/internal/domain"
)

const defaultIntentTimeout = 10 * time.Second

// Engine turns carts into orders and manages their lifecycle up to payment.
type Engine struct {
	store         Store
	gateway       PaymentGateway
	publisher     EventPublisher
	logger        *slog.Logger
	now           func() time.Time
	location      *time.Location
	intentTimeout time.Duration
	metrics       *instruments
}

type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the time zone used to find the start of the month for
// statistics. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.location = loc }
}

// WithIntentTimeout bounds each payment gateway call.
func WithIntentTimeout(d time.Duration) Option {
	return func(e *Engine) { e.intentTimeout = d }
}

// NewEngine builds an Engine. publisher may be nil, in which case no events
// are emitted.
func NewEngine(store Store, gateway PaymentGateway, publisher EventPublisher, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		gateway:       gateway,
		publisher:     publisher,
		logger:        logger,
		now:           time.Now,
		location:      time.Local,
		intentTimeout: defaultIntentTimeout,
		metrics:       newInstruments(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PlaceOrder converts the cart, or the lines of it named in lineIDs, into a
// PENDING order and removes the consumed lines from the cart in the same
// transaction. Line ids that are not in the cart are ignored.
func (e *Engine) PlaceOrder(ctx context.Context, cartID string, lineIDs []string) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "checkout.PlaceOrder", trace.WithAttributes(
		attribute.String("cart.id", cartID),
		attribute.Int("cart.selected_lines", len(lineIDs)),
	))
	defer span.End()

	var order *domain.Order
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		cart, err := tx.LockCart(ctx, cartID)
		if err != nil {
			return fmt.Errorf("lock cart: %w", err)
		}
		if cart == nil {
			return fmt.Errorf("%w: cart %s", ErrNotFound, cartID)
		}
		if len(cart.Lines) == 0 {
			return fmt.Errorf("%w: cart is empty", ErrInvalidState)
		}

		selected := selectLines(cart.Lines, lineIDs)
		if len(selected) == 0 {
			return fmt.Errorf("%w: no items selected", ErrInvalidState)
		}

		lines := make([]domain.OrderLine, 0, len(selected))
		consumed := make([]string, 0, len(selected))
		for _, l := range selected {
			lines = append(lines, domain.OrderLine{
				ProductID:   l.ProductID,
				ProductName: l.ProductName,
				Quantity:    l.Quantity,
				UnitPrice:   l.UnitPrice,
			})
			consumed = append(consumed, l.ID)
		}

		o := &domain.Order{
			ID:        uuid.NewString(),
			UserID:    cart.UserID,
			Lines:     lines,
			Total:     domain.SumLines(lines),
			Status:    domain.OrderStatusPending,
			CreatedAt: e.now().UTC().Truncate(time.Microsecond),
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		removed, err := tx.DeleteCartLines(ctx, cart.ID, consumed)
		if err != nil {
			return fmt.Errorf("trim cart: %w", err)
		}
		if removed != int64(len(consumed)) {
			return fmt.Errorf("%w: cart changed during checkout", ErrInvalidState)
		}

		order = o
		return nil
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("order.id", order.ID))
	e.metrics.ordersPlaced.Add(ctx, 1)
	e.logger.Info("order placed", "order_id", order.ID, "cart_id", cartID, "user_id", order.UserID, "total", order.Total.StringFixed(2), "lines", len(order.Lines))

	publish(ctx, e.publisher, e.logger, domain.TopicOrderPlaced, order.ID, domain.OrderPlacedEvent{
		OrderID:   order.ID,
		UserID:    order.UserID,
		Lines:     order.Lines,
		Total:     order.Total,
		Timestamp: order.CreatedAt,
	})

	return order, nil
}

func selectLines(lines []domain.CartLine, lineIDs []string) []domain.CartLine {
	if len(lineIDs) == 0 {
		return lines
	}

	wanted := make(map[string]struct{}, len(lineIDs))
	for _, id := range lineIDs {
		wanted[id] = struct{}{}
	}

	var selected []domain.CartLine
	for _, l := range lines {
		if _, ok := wanted[l.ID]; ok {
			selected = append(selected, l)
		}
	}
	return selected
}

// IdempotencyHint is the receipt sent with every intent request for an order.
// It depends only on the order id so retries are deduplicated by the gateway.
func IdempotencyHint(orderID string) string {
	return "order_" + orderID
}

// CreatePaymentIntent asks the gateway for a payment intent covering the order
// total, stores the gateway reference and moves the order to CREATED. A zero
// amount means "the order total"; any other amount must match it. When the
// gateway call fails or times out the order is left untouched.
func (e *Engine) CreatePaymentIntent(ctx context.Context, orderID string, amount decimal.Decimal) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "checkout.CreatePaymentIntent", trace.WithAttributes(
		attribute.String("order.id", orderID),
	))
	defer span.End()

	if amount.IsNegative() {
		err := fmt.Errorf("%w: amount must not be negative", ErrInvalidInput)
		recordError(span, err)
		return nil, err
	}

	var payload json.RawMessage
	var gatewayRef string
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if order == nil {
			return fmt.Errorf("%w: order %s", ErrNotFound, orderID)
		}
		if order.Status != domain.OrderStatusPending && order.Status != domain.OrderStatusCreated {
			return fmt.Errorf("%w: order in status %s cannot start a payment", ErrInvalidState, order.Status)
		}
		if !amount.IsZero() && !amount.Equal(order.Total) {
			return fmt.Errorf("%w: amount %s does not match order total %s", ErrInvalidInput, amount.StringFixed(2), order.Total.StringFixed(2))
		}

		callCtx, cancel := context.WithTimeout(ctx, e.intentTimeout)
		defer cancel()

		intent, err := e.gateway.CreateIntent(callCtx, order.Total, IdempotencyHint(order.ID))
		if err != nil {
			return fmt.Errorf("%w: create payment intent: %w", ErrExternalService, err)
		}

		order.GatewayOrderRef = intent.ID
		order.Status = domain.OrderStatusCreated
		if err := tx.SaveOrderState(ctx, order); err != nil {
			return fmt.Errorf("save order: %w", err)
		}

		payload = intent.Payload
		gatewayRef = intent.ID
		return nil
	})
	e.metrics.paymentIntents.Add(ctx, 1, withResult(resultOf(err)))
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	e.logger.Info("payment intent created", "order_id", orderID, "gateway_order_ref", gatewayRef)
	return payload, nil
}

// GetOrder returns the order or ErrNotFound.
func (e *Engine) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	return order, nil
}

// ListOrders returns every order, newest first.
func (e *Engine) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return e.store.ListOrders(ctx, OrderFilter{})
}

func (e *Engine) OrdersForUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return e.store.ListOrders(ctx, OrderFilter{UserID: userID})
}

// OrdersByStatus matches status case-insensitively. An unknown status yields
// an empty result.
func (e *Engine) OrdersByStatus(ctx context.Context, status string) ([]domain.Order, error) {
	parsed, ok := domain.ParseOrderStatus(status)
	if !ok {
		return []domain.Order{}, nil
	}
	return e.store.ListOrders(ctx, OrderFilter{Status: parsed})
}

func (e *Engine) FilterUserOrdersByStatus(ctx context.Context, userID, status string) ([]domain.Order, error) {
	parsed, ok := domain.ParseOrderStatus(status)
	if !ok {
		return []domain.Order{}, nil
	}
	return e.store.ListOrders(ctx, OrderFilter{UserID: userID, Status: parsed})
}

// UpdateOrderStatus moves an order to newStatus. The status must be one of the
// assignable statuses (ErrInvalidInput) and reachable from the current one
// (ErrInvalidState). Requesting the current status is a no-op.
func (e *Engine) UpdateOrderStatus(ctx context.Context, orderID, newStatus string) (*domain.Order, error) {
	status, ok := domain.ParseAssignableStatus(newStatus)
	if !ok {
		return nil, fmt.Errorf("%w: unknown order status %q", ErrInvalidInput, newStatus)
	}

	ctx, span := tracer.Start(ctx, "checkout.UpdateOrderStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.status", string(status)),
	))
	defer span.End()

	var updated *domain.Order
	var previous domain.OrderStatus
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if order == nil {
			return fmt.Errorf("%w: order %s", ErrNotFound, orderID)
		}

		previous = order.Status
		updated = order
		if order.Status == status {
			return nil
		}
		if !order.Status.CanTransition(status) {
			return fmt.Errorf("%w: cannot move order from %s to %s", ErrInvalidState, order.Status, status)
		}
		if status == domain.OrderStatusPaid && order.GatewayPaymentRef == "" {
			return fmt.Errorf("%w: order has no verified payment", ErrInvalidState)
		}

		order.Status = status
		return tx.SaveOrderState(ctx, order)
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	if previous != status {
		e.logger.Info("order status updated", "order_id", orderID, "from", previous, "to", status)
	}
	return updated, nil
}

// Stats aggregates order counts and revenue. Monthly revenue covers orders
// created since the first instant of the current month in the engine's
// location.
func (e *Engine) Stats(ctx context.Context) (*domain.OrderStats, error) {
	now := e.now().In(e.location)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, e.location)
	return e.store.Stats(ctx, monthStart)
}
