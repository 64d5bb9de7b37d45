package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TopicOrderPlaced = "order.placed"
	TopicOrderPaid   = "order.paid"
)

type OrderPlacedEvent struct {
	OrderID   string          `json:"order_id"`
	UserID    string          `json:"user_id"`
	Lines     []OrderLine     `json:"lines"`
	Total     decimal.Decimal `json:"total"`
	Timestamp time.Time       `json:"timestamp"`
}

type OrderPaidEvent struct {
	OrderID    string          `json:"order_id"`
	UserID     string          `json:"user_id"`
	Total      decimal.Decimal `json:"total"`
	PaymentRef string          `json:"payment_ref"`
	Timestamp  time.Time       `json:"timestamp"`
}
