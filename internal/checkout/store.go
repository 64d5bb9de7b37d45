package checkout

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/checkout-pipeline/internal/domain"
	"github.com/joao-fontenele/checkout-pipeline/internal/paygateway"
)

// Store is the durable state behind the engine. Read methods run outside any
// transaction; mutations go through WithinTx.
type Store interface {
	// WithinTx runs fn in a single transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// GetOrder returns nil, nil when the order does not exist.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]domain.Order, error)
	Stats(ctx context.Context, monthStart time.Time) (*domain.OrderStats, error)
}

// Tx is the set of mutations available inside WithinTx. Lookups return nil, nil
// when the record does not exist.
type Tx interface {
	// LockCart loads the cart and holds a lock on it until the transaction ends,
	// so concurrent checkouts of the same cart run one after the other. Each line
	// carries the product's name and price as they are at call time.
	LockCart(ctx context.Context, cartID string) (*domain.Cart, error)
	// DeleteCartLines removes lineIDs from the cart and reports how many rows
	// were actually deleted.
	DeleteCartLines(ctx context.Context, cartID string, lineIDs []string) (int64, error)

	InsertOrder(ctx context.Context, order *domain.Order) error
	LockOrder(ctx context.Context, id string) (*domain.Order, error)
	LockOrderByGatewayRef(ctx context.Context, gatewayOrderRef string) (*domain.Order, error)
	// SaveOrderState persists status and gateway references. Lines and total
	// are never rewritten.
	SaveOrderState(ctx context.Context, order *domain.Order) error
}

// OrderFilter narrows ListOrders. Zero fields do not filter.
type OrderFilter struct {
	UserID string
	Status domain.OrderStatus
}

type PaymentGateway interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal, receipt string) (*paygateway.Intent, error)
}

type SignatureVerifier interface {
	Verify(gatewayOrderRef, paymentRef, signature string) bool
}

type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, event any) error
}
