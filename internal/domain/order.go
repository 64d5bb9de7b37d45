package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusCreated    OrderStatus = "CREATED"
	OrderStatusPaid       OrderStatus = "PAID"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// AllOrderStatuses lists every status in lifecycle order.
var AllOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusCreated,
	OrderStatusPaid,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// RevenueStatuses are the statuses whose orders count as collected revenue.
var RevenueStatuses = []OrderStatus{
	OrderStatusPaid,
	OrderStatusShipped,
	OrderStatusDelivered,
}

// assignable holds the statuses an operator may request through a status update.
// CREATED is only ever set by payment intent creation.
var assignable = map[OrderStatus]bool{
	OrderStatusPending:    true,
	OrderStatusPaid:       true,
	OrderStatusProcessing: true,
	OrderStatusShipped:    true,
	OrderStatusDelivered:  true,
	OrderStatusCancelled:  true,
}

// predecessors maps a target status to the statuses it may be entered from.
var predecessors = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    nil,
	OrderStatusCreated:    {OrderStatusPending},
	OrderStatusPaid:       {OrderStatusCreated},
	OrderStatusProcessing: {OrderStatusPaid},
	OrderStatusShipped:    {OrderStatusPaid, OrderStatusProcessing},
	OrderStatusDelivered:  {OrderStatusShipped},
	OrderStatusCancelled: {
		OrderStatusPending,
		OrderStatusCreated,
		OrderStatusPaid,
		OrderStatusProcessing,
		OrderStatusShipped,
	},
}

// ParseOrderStatus matches s case-insensitively against the known statuses.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	candidate := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := predecessors[candidate]; !ok {
		return "", false
	}
	return candidate, true
}

// ParseAssignableStatus is ParseOrderStatus restricted to the statuses accepted
// by an explicit status update.
func ParseAssignableStatus(s string) (OrderStatus, bool) {
	status, ok := ParseOrderStatus(s)
	if !ok || !assignable[status] {
		return "", false
	}
	return status, true
}

// CanTransition reports whether an order in status from may move to status to.
// Staying in the same status is not a transition and reports false.
func (from OrderStatus) CanTransition(to OrderStatus) bool {
	for _, p := range predecessors[to] {
		if p == from {
			return true
		}
	}
	return false
}

// IsPaid reports whether the status is PAID or a later fulfilment status.
func (s OrderStatus) IsPaid() bool {
	switch s {
	case OrderStatusPaid, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered:
		return true
	}
	return false
}

// OrderLine is a line captured at checkout. UnitPrice is the catalog price at
// that moment and is never recomputed.
type OrderLine struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Order struct {
	ID                string          `json:"id"`
	UserID            string          `json:"user_id"`
	Lines             []OrderLine     `json:"lines"`
	Total             decimal.Decimal `json:"total"`
	Status            OrderStatus     `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	GatewayOrderRef   string          `json:"gateway_order_ref,omitempty"`
	GatewayPaymentRef string          `json:"gateway_payment_ref,omitempty"`
}

// SumLines returns the exact sum of the line subtotals.
func SumLines(lines []OrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// OrderStats is the read model behind the statistics endpoint.
type OrderStats struct {
	TotalOrders    int64                 `json:"total_orders"`
	ByStatus       map[OrderStatus]int64 `json:"by_status"`
	TotalRevenue   decimal.Decimal       `json:"total_revenue"`
	MonthlyRevenue decimal.Decimal       `json:"monthly_revenue"`
}
