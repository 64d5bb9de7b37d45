package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/checkout-pipeline/internal/domain"
)

// NotificationHandler turns order events into customer emails.
type NotificationHandler struct {
	emailServiceURL string
	emailDomain     string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewNotificationHandler(emailServiceURL, emailDomain string, client *http.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		emailServiceURL: emailServiceURL,
		emailDomain:     emailDomain,
		httpClient:      client,
		logger:          logger,
	}
}

// Handle dispatches on topic. Unknown topics and undecodable payloads are
// logged and skipped so one stray message cannot stall the consumer group.
// Only email delivery failures are returned, leaving the message uncommitted.
func (h *NotificationHandler) Handle(ctx context.Context, topic string, payload []byte) error {
	switch topic {
	case domain.TopicOrderPlaced:
		var event domain.OrderPlacedEvent
		if err := json.Unmarshal(payload, &event); err != nil || event.OrderID == "" {
			h.skipMalformed(topic, payload, err)
			return nil
		}
		return h.handlePlaced(ctx, event)
	case domain.TopicOrderPaid:
		var event domain.OrderPaidEvent
		if err := json.Unmarshal(payload, &event); err != nil || event.OrderID == "" {
			h.skipMalformed(topic, payload, err)
			return nil
		}
		return h.handlePaid(ctx, event)
	default:
		h.logger.Warn("skipping message from unknown topic", "topic", topic)
		return nil
	}
}

func (h *NotificationHandler) skipMalformed(topic string, payload []byte, err error) {
	if err == nil {
		err = errors.New("missing order_id")
	}
	h.logger.Error("skipping malformed event", "topic", topic, "error", err, "payload_bytes", len(payload))
}

func (h *NotificationHandler) handlePlaced(ctx context.Context, event domain.OrderPlacedEvent) error {
	h.logger.Info("processing order placed event", "order_id", event.OrderID, "user_id", event.UserID)

	body := map[string]string{
		"to":      h.address(event.UserID),
		"subject": "Order received: " + event.OrderID,
		"body":    fmt.Sprintf("We received your order %s with %d items totalling %s.", event.OrderID, len(event.Lines), event.Total.StringFixed(2)),
	}
	if err := h.sendEmail(ctx, body); err != nil {
		h.logger.Error("failed to send order received email", "error", err, "order_id", event.OrderID)
		return fmt.Errorf("send order received email: %w", err)
	}

	return nil
}

func (h *NotificationHandler) handlePaid(ctx context.Context, event domain.OrderPaidEvent) error {
	h.logger.Info("processing order paid event", "order_id", event.OrderID, "user_id", event.UserID)

	body := map[string]string{
		"to":      h.address(event.UserID),
		"subject": "Payment received: " + event.OrderID,
		"body":    fmt.Sprintf("Payment %s of %s for order %s has been confirmed.", event.PaymentRef, event.Total.StringFixed(2), event.OrderID),
	}
	if err := h.sendEmail(ctx, body); err != nil {
		h.logger.Error("failed to send payment received email", "error", err, "order_id", event.OrderID)
		return fmt.Errorf("send payment received email: %w", err)
	}

	return nil
}

func (h *NotificationHandler) address(userID string) string {
	return userID + "@" + h.emailDomain
}

func (h *NotificationHandler) sendEmail(ctx context.Context, body map[string]string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
