package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/checkout-pipeline/internal/domain"
	"github.com/joao-fontenele/checkout-pipeline/internal/paygateway"
)

type memCartLine struct {
	id        string
	productID string
	quantity  int
}

type memCart struct {
	userID string
	lines  []memCartLine
}

type memState struct {
	products map[string]domain.Product
	carts    map[string]memCart
	orders   map[string]domain.Order
}

func (s memState) clone() memState {
	out := memState{
		products: make(map[string]domain.Product, len(s.products)),
		carts:    make(map[string]memCart, len(s.carts)),
		orders:   make(map[string]domain.Order, len(s.orders)),
	}
	for k, v := range s.products {
		out.products[k] = v
	}
	for k, v := range s.carts {
		v.lines = append([]memCartLine(nil), v.lines...)
		out.carts[k] = v
	}
	for k, v := range s.orders {
		out.orders[k] = cloneOrder(v)
	}
	return out
}

func cloneOrder(o domain.Order) domain.Order {
	o.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return o
}

// memStore serializes transactions behind one mutex and commits by swapping
// in the mutated copy, so a failed transaction leaves no trace.
type memStore struct {
	mu      sync.Mutex
	state   memState
	failTx  error
	txCount int

	// afterLockCart runs inside the transaction right after the cart is read,
	// standing in for a writer that does not take the cart lock.
	afterLockCart func(*memState)
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		products: map[string]domain.Product{},
		carts:    map[string]memCart{},
		orders:   map[string]domain.Order{},
	}}
}

func (s *memStore) addProduct(id, name, price string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.products[id] = domain.Product{ID: id, Name: name, Price: decimal.RequireFromString(price)}
}

func (s *memStore) setPrice(id, price string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.state.products[id]
	p.Price = decimal.RequireFromString(price)
	s.state.products[id] = p
}

func (s *memStore) addCart(id, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.carts[id] = memCart{userID: userID}
}

func (s *memStore) addCartLine(cartID, lineID, productID string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.state.carts[cartID]
	c.lines = append(c.lines, memCartLine{id: lineID, productID: productID, quantity: qty})
	s.state.carts[cartID] = c
}

func (s *memStore) cartLineIDs(cartID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, l := range s.state.carts[cartID].lines {
		ids = append(ids, l.id)
	}
	return ids
}

func (s *memStore) putOrder(o domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.orders[o.ID] = cloneOrder(o)
}

func (s *memStore) order(id string) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOrder(s.state.orders[id])
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.orders)
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++

	if s.failTx != nil {
		return s.failTx
	}

	work := s.state.clone()
	if err := fn(ctx, &memTx{state: &work, afterLockCart: s.afterLockCart}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *memStore) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.state.orders[id]
	if !ok {
		return nil, nil
	}
	o = cloneOrder(o)
	return &o, nil
}

func (s *memStore) ListOrders(_ context.Context, filter OrderFilter) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Order{}
	for _, o := range s.state.orders {
		if filter.UserID != "" && o.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memStore) Stats(_ context.Context, monthStart time.Time) (*domain.OrderStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &domain.OrderStats{ByStatus: map[domain.OrderStatus]int64{}, TotalRevenue: decimal.Zero, MonthlyRevenue: decimal.Zero}
	for _, st := range domain.AllOrderStatuses {
		stats.ByStatus[st] = 0
	}
	revenue := map[domain.OrderStatus]bool{}
	for _, st := range domain.RevenueStatuses {
		revenue[st] = true
	}
	for _, o := range s.state.orders {
		stats.TotalOrders++
		stats.ByStatus[o.Status]++
		if revenue[o.Status] {
			stats.TotalRevenue = stats.TotalRevenue.Add(o.Total)
			if !o.CreatedAt.Before(monthStart) {
				stats.MonthlyRevenue = stats.MonthlyRevenue.Add(o.Total)
			}
		}
	}
	return stats, nil
}

type memTx struct {
	state         *memState
	afterLockCart func(*memState)
}

func (t *memTx) LockCart(_ context.Context, cartID string) (*domain.Cart, error) {
	c, ok := t.state.carts[cartID]
	if !ok {
		return nil, nil
	}
	cart := &domain.Cart{ID: cartID, UserID: c.userID}
	for _, l := range c.lines {
		p := t.state.products[l.productID]
		cart.Lines = append(cart.Lines, domain.CartLine{
			ID:          l.id,
			ProductID:   l.productID,
			ProductName: p.Name,
			UnitPrice:   p.Price,
			Quantity:    l.quantity,
		})
	}
	if t.afterLockCart != nil {
		t.afterLockCart(t.state)
	}
	return cart, nil
}

func (t *memTx) DeleteCartLines(_ context.Context, cartID string, lineIDs []string) (int64, error) {
	drop := map[string]bool{}
	for _, id := range lineIDs {
		drop[id] = true
	}
	c := t.state.carts[cartID]
	kept := c.lines[:0]
	var removed int64
	for _, l := range c.lines {
		if drop[l.id] {
			removed++
			continue
		}
		kept = append(kept, l)
	}
	c.lines = kept
	t.state.carts[cartID] = c
	return removed, nil
}

func (t *memTx) InsertOrder(_ context.Context, order *domain.Order) error {
	if _, ok := t.state.orders[order.ID]; ok {
		return fmt.Errorf("duplicate order %s", order.ID)
	}
	t.state.orders[order.ID] = cloneOrder(*order)
	return nil
}

func (t *memTx) LockOrder(_ context.Context, id string) (*domain.Order, error) {
	o, ok := t.state.orders[id]
	if !ok {
		return nil, nil
	}
	o = cloneOrder(o)
	return &o, nil
}

func (t *memTx) LockOrderByGatewayRef(_ context.Context, ref string) (*domain.Order, error) {
	for _, o := range t.state.orders {
		if o.GatewayOrderRef == ref {
			o = cloneOrder(o)
			return &o, nil
		}
	}
	return nil, nil
}

func (t *memTx) SaveOrderState(_ context.Context, order *domain.Order) error {
	existing, ok := t.state.orders[order.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Status = order.Status
	existing.GatewayOrderRef = order.GatewayOrderRef
	existing.GatewayPaymentRef = order.GatewayPaymentRef
	t.state.orders[order.ID] = existing
	return nil
}

type intentCall struct {
	amount  decimal.Decimal
	receipt string
}

type fakeGateway struct {
	mu    sync.Mutex
	calls []intentCall
	err   error
	block bool
	next  int
}

func (g *fakeGateway) CreateIntent(ctx context.Context, amount decimal.Decimal, receipt string) (*paygateway.Intent, error) {
	g.mu.Lock()
	g.calls = append(g.calls, intentCall{amount: amount, receipt: receipt})
	g.next++
	id := fmt.Sprintf("gw_%d", g.next)
	err, block := g.err, g.block
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	payload, _ := json.Marshal(map[string]any{"id": id, "amount": amount.Shift(2).IntPart(), "receipt": receipt})
	return &paygateway.Intent{ID: id, Payload: payload}, nil
}

type published struct {
	topic string
	key   string
	event any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, topic, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, published{topic: topic, key: key, event: event})
	return nil
}

func (p *fakePublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.topic)
	}
	return out
}

var errBoom = errors.New("boom")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
