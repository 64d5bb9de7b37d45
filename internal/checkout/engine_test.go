package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/checkout-pipeline/internal/domain"
)

var fixedNow = time.Date(2026, time.March, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store     *memStore
	gateway   *fakeGateway
	publisher *fakePublisher
	engine    *Engine
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:     newMemStore(),
		gateway:   &fakeGateway{},
		publisher: &fakePublisher{},
	}
	opts = append([]Option{WithClock(func() time.Time { return fixedNow }), WithLocation(time.UTC)}, opts...)
	f.engine = NewEngine(f.store, f.gateway, f.publisher, discardLogger(), opts...)

	f.store.addProduct("A", "Product A", "10.00")
	f.store.addProduct("B", "Product B", "5.00")
	f.store.addCart("cart-1", "user-1")
	f.store.addCartLine("cart-1", "line-a", "A", 2)
	f.store.addCartLine("cart-1", "line-b", "B", 1)
	return f
}

func TestEngine_PlaceOrder(t *testing.T) {
	t.Run("whole cart", func(t *testing.T) {
		f := newFixture(t)

		order, err := f.engine.PlaceOrder(context.Background(), "cart-1", nil)
		require.NoError(t, err)

		assert.True(t, order.Total.Equal(decimal.RequireFromString("25.00")), "total %s", order.Total)
		assert.Equal(t, domain.OrderStatusPending, order.Status)
		assert.Equal(t, "user-1", order.UserID)
		assert.Equal(t, fixedNow, order.CreatedAt)
		require.Len(t, order.Lines, 2)
		assert.Equal(t, "Product A", order.Lines[0].ProductName)
		assert.Empty(t, order.GatewayOrderRef)

		assert.Empty(t, f.store.cartLineIDs("cart-1"))
		assert.Equal(t, order.ID, f.store.order(order.ID).ID)
		assert.Equal(t, []string{domain.TopicOrderPlaced}, f.publisher.topics())
	})

	t.Run("selection consumes only chosen lines", func(t *testing.T) {
		f := newFixture(t)

		order, err := f.engine.PlaceOrder(context.Background(), "cart-1", []string{"line-b", "unknown"})
		require.NoError(t, err)

		require.Len(t, order.Lines, 1)
		assert.Equal(t, "B", order.Lines[0].ProductID)
		assert.True(t, order.Total.Equal(decimal.RequireFromString("5")))
		assert.Equal(t, []string{"line-a"}, f.store.cartLineIDs("cart-1"))
	})

	t.Run("selection matching nothing", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.engine.PlaceOrder(context.Background(), "cart-1", []string{"unknown"})
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.Len(t, f.store.cartLineIDs("cart-1"), 2)
		assert.Zero(t, f.store.orderCount())
	})

	t.Run("empty cart", func(t *testing.T) {
		f := newFixture(t)
		f.store.addCart("cart-empty", "user-2")

		_, err := f.engine.PlaceOrder(context.Background(), "cart-empty", nil)
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.Zero(t, f.store.orderCount())
		assert.Empty(t, f.publisher.topics())
	})

	t.Run("unknown cart", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.engine.PlaceOrder(context.Background(), "nope", nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("prices come from the catalog at checkout time", func(t *testing.T) {
		f := newFixture(t)
		f.store.setPrice("A", "12.50")

		order, err := f.engine.PlaceOrder(context.Background(), "cart-1", nil)
		require.NoError(t, err)
		assert.True(t, order.Total.Equal(decimal.RequireFromString("30.00")), "total %s", order.Total)

		f.store.setPrice("A", "99.00")
		stored := f.store.order(order.ID)
		assert.True(t, stored.Lines[0].UnitPrice.Equal(decimal.RequireFromString("12.50")))
	})

	t.Run("publish failure does not fail checkout", func(t *testing.T) {
		f := newFixture(t)
		f.publisher.err = errBoom

		order, err := f.engine.PlaceOrder(context.Background(), "cart-1", nil)
		require.NoError(t, err)
		assert.NotEmpty(t, order.ID)
	})

	t.Run("nil publisher", func(t *testing.T) {
		f := newFixture(t)
		e := NewEngine(f.store, f.gateway, nil, discardLogger())

		_, err := e.PlaceOrder(context.Background(), "cart-1", nil)
		require.NoError(t, err)
	})
}

func TestEngine_PlaceOrderConcurrent(t *testing.T) {
	f := newFixture(t)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.PlaceOrder(context.Background(), "cart-1", nil)
		}(i)
	}
	wg.Wait()

	var ok, empty int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrInvalidState):
			empty++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, empty)
	assert.Equal(t, 1, f.store.orderCount())
}

func TestEngine_PlaceOrderConcurrentOverlappingSelections(t *testing.T) {
	f := newFixture(t)

	selections := [][]string{
		{"line-a"},
		{"line-a", "line-b"},
		{"line-a"},
		{"line-a", "line-b"},
		{"line-a"},
		{"line-a", "line-b"},
	}

	var wg sync.WaitGroup
	orders := make([]*domain.Order, len(selections))
	errs := make([]error, len(selections))
	for i, sel := range selections {
		wg.Add(1)
		go func(i int, sel []string) {
			defer wg.Done()
			orders[i], errs[i] = f.engine.PlaceOrder(context.Background(), "cart-1", sel)
		}(i, sel)
	}
	wg.Wait()

	billedA, billedB := 0, 0
	for i, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrInvalidState)
			continue
		}
		for _, l := range orders[i].Lines {
			switch l.ProductID {
			case "A":
				billedA++
			case "B":
				billedB++
			}
		}
	}

	assert.Equal(t, 1, billedA, "line-a billed more than once")
	assert.LessOrEqual(t, billedB, 1)
	assert.NotContains(t, f.store.cartLineIDs("cart-1"), "line-a")
	if billedB == 0 {
		assert.Equal(t, []string{"line-b"}, f.store.cartLineIDs("cart-1"))
	} else {
		assert.Empty(t, f.store.cartLineIDs("cart-1"))
	}
}

func TestEngine_PlaceOrderCartChangedUnderneath(t *testing.T) {
	f := newFixture(t)
	f.store.afterLockCart = func(s *memState) {
		c := s.carts["cart-1"]
		kept := c.lines[:0]
		for _, l := range c.lines {
			if l.id != "line-a" {
				kept = append(kept, l)
			}
		}
		c.lines = kept
		s.carts["cart-1"] = c
	}

	_, err := f.engine.PlaceOrder(context.Background(), "cart-1", nil)

	require.ErrorIs(t, err, ErrInvalidState)
	assert.Zero(t, f.store.orderCount())
	assert.Equal(t, []string{"line-a", "line-b"}, f.store.cartLineIDs("cart-1"))
	assert.Empty(t, f.publisher.topics())
}

func placed(t *testing.T, f *fixture) *domain.Order {
	t.Helper()
	order, err := f.engine.PlaceOrder(context.Background(), "cart-1", nil)
	require.NoError(t, err)
	return order
}

func TestEngine_CreatePaymentIntent(t *testing.T) {
	t.Run("moves order to CREATED", func(t *testing.T) {
		f := newFixture(t)
		order := placed(t, f)

		payload, err := f.engine.CreatePaymentIntent(context.Background(), order.ID, decimal.RequireFromString("25.00"))
		require.NoError(t, err)
		assert.Contains(t, string(payload), `"id":"gw_1"`)

		stored := f.store.order(order.ID)
		assert.Equal(t, domain.OrderStatusCreated, stored.Status)
		assert.Equal(t, "gw_1", stored.GatewayOrderRef)

		require.Len(t, f.gateway.calls, 1)
		assert.Equal(t, "order_"+order.ID, f.gateway.calls[0].receipt)
		assert.True(t, f.gateway.calls[0].amount.Equal(decimal.RequireFromString("25")))
	})

	t.Run("zero amount uses the order total", func(t *testing.T) {
		f := newFixture(t)
		order := placed(t, f)

		_, err := f.engine.CreatePaymentIntent(context.Background(), order.ID, decimal.Zero)
		require.NoError(t, err)
		assert.True(t, f.gateway.calls[0].amount.Equal(order.Total))
	})

	t.Run("retry keeps the same receipt", func(t *testing.T) {
		f := newFixture(t)
		order := placed(t, f)

		_, err := f.engine.CreatePaymentIntent(context.Background(), order.ID, decimal.Zero)
		require.NoError(t, err)
		_, err = f.engine.CreatePaymentIntent(context.Background(), order.ID, decimal.Zero)
		require.NoError(t, err)

		require.Len(t, f.gateway.calls, 2)
		assert.Equal(t, f.gateway.calls[0].receipt, f.gateway.calls[1].receipt)
		assert.Equal(t, "gw_2", f.store.order(order.ID).GatewayOrderRef)
	})

	t.Run("mismatched amount", func(t *testing.T) {
		f := newFixture(t)
		order := placed(t, f)

		_, err := f.engine.CreatePaymentIntent(context.Background(), order.ID, decimal.RequireFromString("24.99"))
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Empty(t, f.gateway.calls)
	})

	t.Run("negative amount", func(t *testing.T) {
		f := newFixture(t)
		order := placed(t, f)

		_, err := f.engine.CreatePaymentIntent(context.Background(), order.ID, decimal.RequireFromString("-1"))
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("unknown order", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.engine.CreatePaymentIntent(context.Background(), "nope", decimal.Zero)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("gateway failure leaves order untouched", func(t *testing.T) {
		f := newFixture(t)
		order := placed(t, f)
		f.gateway.err = errBoom

		_, err := f.engine.CreatePaymentIntent(context.Background(), order.ID, decimal.Zero)
		assert.ErrorIs(t, err, ErrExternalService)
		assert.ErrorIs(t, err, errBoom)

		stored := f.store.order(order.ID)
		assert.Equal(t, domain.OrderStatusPending, stored.Status)
		assert.Empty(t, stored.GatewayOrderRef)
	})

	t.Run("gateway timeout leaves order untouched", func(t *testing.T) {
		f := newFixture(t, WithIntentTimeout(20*time.Millisecond))
		order := placed(t, f)
		f.gateway.block = true

		_, err := f.engine.CreatePaymentIntent(context.Background(), order.ID, decimal.Zero)
		assert.ErrorIs(t, err, ErrExternalService)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, domain.OrderStatusPending, f.store.order(order.ID).Status)
	})

	t.Run("paid order cannot start a payment", func(t *testing.T) {
		f := newFixture(t)
		order := placed(t, f)
		stored := f.store.order(order.ID)
		stored.Status = domain.OrderStatusPaid
		stored.GatewayPaymentRef = "pay_1"
		f.store.putOrder(stored)

		_, err := f.engine.CreatePaymentIntent(context.Background(), order.ID, decimal.Zero)
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.Empty(t, f.gateway.calls)
	})
}

func TestEngine_Reads(t *testing.T) {
	f := newFixture(t)
	first := placed(t, f)

	f.store.addCart("cart-2", "user-2")
	f.store.addCartLine("cart-2", "line-c", "A", 1)
	second, err := f.engine.PlaceOrder(context.Background(), "cart-2", nil)
	require.NoError(t, err)
	_, err = f.engine.CreatePaymentIntent(context.Background(), second.ID, decimal.Zero)
	require.NoError(t, err)

	ctx := context.Background()

	got, err := f.engine.GetOrder(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)

	_, err = f.engine.GetOrder(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := f.engine.ListOrders(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := f.engine.OrdersForUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, first.ID, mine[0].ID)

	none, err := f.engine.OrdersForUser(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, none)

	for _, s := range []string{"created", "CREATED", "Created"} {
		byStatus, err := f.engine.OrdersByStatus(ctx, s)
		require.NoError(t, err)
		require.Len(t, byStatus, 1, s)
		assert.Equal(t, second.ID, byStatus[0].ID)
	}

	unknown, err := f.engine.OrdersByStatus(ctx, "refunded")
	require.NoError(t, err)
	assert.Empty(t, unknown)

	filtered, err := f.engine.FilterUserOrdersByStatus(ctx, "user-1", "pending")
	require.NoError(t, err)
	assert.Len(t, filtered, 1)

	filtered, err = f.engine.FilterUserOrdersByStatus(ctx, "user-1", "created")
	require.NoError(t, err)
	assert.Empty(t, filtered)
}

func TestEngine_UpdateOrderStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects unknown status", func(t *testing.T) {
		f := newFixture(t)
		order := placed(t, f)

		for _, s := range []string{"refunded", "", "created"} {
			_, err := f.engine.UpdateOrderStatus(ctx, order.ID, s)
			assert.ErrorIs(t, err, ErrInvalidInput, s)
		}
	})

	t.Run("unknown order", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.UpdateOrderStatus(ctx, "nope", "shipped")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("cannot mark paid without a payment", func(t *testing.T) {
		f := newFixture(t)
		order := placed(t, f)
		_, err := f.engine.CreatePaymentIntent(ctx, order.ID, decimal.Zero)
		require.NoError(t, err)

		_, err = f.engine.UpdateOrderStatus(ctx, order.ID, "PAID")
		assert.ErrorIs(t, err, ErrInvalidState)
		assert.Equal(t, domain.OrderStatusCreated, f.store.order(order.ID).Status)
	})

	t.Run("fulfilment path", func(t *testing.T) {
		f := newFixture(t)
		order := placed(t, f)
		stored := f.store.order(order.ID)
		stored.Status = domain.OrderStatusPaid
		stored.GatewayOrderRef = "gw_x"
		stored.GatewayPaymentRef = "pay_x"
		f.store.putOrder(stored)

		for _, s := range []string{"processing", "Shipped", "DELIVERED"} {
			updated, err := f.engine.UpdateOrderStatus(ctx, order.ID, s)
			require.NoError(t, err, s)
			parsed, _ := domain.ParseOrderStatus(s)
			assert.Equal(t, parsed, updated.Status)
		}

		_, err := f.engine.UpdateOrderStatus(ctx, order.ID, "cancelled")
		assert.ErrorIs(t, err, ErrInvalidState)

		_, err = f.engine.UpdateOrderStatus(ctx, order.ID, "pending")
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		f := newFixture(t)
		order := placed(t, f)

		updated, err := f.engine.UpdateOrderStatus(ctx, order.ID, "pending")
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusPending, updated.Status)
	})

	t.Run("cancel pending order", func(t *testing.T) {
		f := newFixture(t)
		order := placed(t, f)

		updated, err := f.engine.UpdateOrderStatus(ctx, order.ID, "cancelled")
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCancelled, updated.Status)

		_, err = f.engine.UpdateOrderStatus(ctx, order.ID, "pending")
		assert.ErrorIs(t, err, ErrInvalidState)
	})
}

func TestEngine_Stats(t *testing.T) {
	f := newFixture(t)
	prevMonth := fixedNow.AddDate(0, -1, 0)

	orders := []domain.Order{
		{ID: "o1", Status: domain.OrderStatusPaid, Total: decimal.RequireFromString("10.00"), CreatedAt: fixedNow},
		{ID: "o2", Status: domain.OrderStatusDelivered, Total: decimal.RequireFromString("20.00"), CreatedAt: prevMonth},
		{ID: "o3", Status: domain.OrderStatusShipped, Total: decimal.RequireFromString("5.50"), CreatedAt: fixedNow.AddDate(0, 0, -14)},
		{ID: "o4", Status: domain.OrderStatusPending, Total: decimal.RequireFromString("99.00"), CreatedAt: fixedNow},
		{ID: "o5", Status: domain.OrderStatusProcessing, Total: decimal.RequireFromString("7.00"), CreatedAt: fixedNow},
		{ID: "o6", Status: domain.OrderStatusCancelled, Total: decimal.RequireFromString("3.00"), CreatedAt: fixedNow},
	}
	for _, o := range orders {
		f.store.putOrder(o)
	}

	stats, err := f.engine.Stats(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 6, stats.TotalOrders)
	assert.EqualValues(t, 1, stats.ByStatus[domain.OrderStatusPaid])
	assert.EqualValues(t, 0, stats.ByStatus[domain.OrderStatusCreated])
	assert.True(t, stats.TotalRevenue.Equal(decimal.RequireFromString("35.50")), "total %s", stats.TotalRevenue)
	assert.True(t, stats.MonthlyRevenue.Equal(decimal.RequireFromString("15.50")), "monthly %s", stats.MonthlyRevenue)
}
