package checkout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/checkout-pipeline/internal/domain"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository is the Postgres Store.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	return tx.Commit()
}

const orderColumns = `id, user_id, status, total, created_at, COALESCE(gateway_order_ref, ''), COALESCE(gateway_payment_ref, '')`

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	order := &domain.Order{}
	err := row.Scan(&order.ID, &order.UserID, &order.Status, &order.Total, &order.CreatedAt, &order.GatewayOrderRef, &order.GatewayPaymentRef)
	if err != nil {
		return nil, err
	}
	order.CreatedAt = order.CreatedAt.UTC()
	return order, nil
}

func (r *Repository) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return getOrder(ctx, r.db, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func getOrder(ctx context.Context, q querier, query string, arg string) (*domain.Order, error) {
	order, err := scanOrder(q.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	lines, err := loadOrderLines(ctx, q, []string{order.ID})
	if err != nil {
		return nil, err
	}
	order.Lines = lines[order.ID]
	if order.Lines == nil {
		order.Lines = []domain.OrderLine{}
	}

	return order, nil
}

func loadOrderLines(ctx context.Context, q querier, orderIDs []string) (map[string][]domain.OrderLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT order_id, product_id, product_name, quantity, unit_price
		FROM order_lines
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, pq.Array(orderIDs))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	lines := make(map[string][]domain.OrderLine, len(orderIDs))
	for rows.Next() {
		var orderID string
		var line domain.OrderLine
		if err := rows.Scan(&orderID, &line.ProductID, &line.ProductName, &line.Quantity, &line.UnitPrice); err != nil {
			return nil, err
		}
		lines[orderID] = append(lines[orderID], line)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return lines, nil
}

func (r *Repository) ListOrders(ctx context.Context, filter OrderFilter) ([]domain.Order, error) {
	var conditions []string
	var args []any
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var orders []domain.Order
	var orderIDs []string
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	lines, err := loadOrderLines(ctx, r.db, orderIDs)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Lines = lines[orders[i].ID]
		if orders[i].Lines == nil {
			orders[i].Lines = []domain.OrderLine{}
		}
	}

	return orders, nil
}

func (r *Repository) Stats(ctx context.Context, monthStart time.Time) (*domain.OrderStats, error) {
	stats := &domain.OrderStats{
		ByStatus:       make(map[domain.OrderStatus]int64, len(domain.AllOrderStatuses)),
		TotalRevenue:   decimal.Zero,
		MonthlyRevenue: decimal.Zero,
	}
	for _, s := range domain.AllOrderStatuses {
		stats.ByStatus[s] = 0
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM orders
		GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var status domain.OrderStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.ByStatus[status] = count
		stats.TotalOrders += count
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	revenue := make([]string, 0, len(domain.RevenueStatuses))
	for _, s := range domain.RevenueStatuses {
		revenue = append(revenue, string(s))
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(total), 0),
			COALESCE(SUM(total) FILTER (WHERE created_at >= $2), 0)
		FROM orders
		WHERE status = ANY($1)
	`, pq.Array(revenue), monthStart).Scan(&stats.TotalRevenue, &stats.MonthlyRevenue)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	cart := &domain.Cart{}
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, user_id, created_at
		FROM carts
		WHERE id = $1
		FOR UPDATE
	`, cartID).Scan(&cart.ID, &cart.UserID, &cart.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT cl.id, cl.product_id, p.name, p.price, cl.quantity
		FROM cart_lines cl
		JOIN products p ON p.id = cl.product_id
		WHERE cl.cart_id = $1
		ORDER BY cl.added_at, cl.id
	`, cartID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var line domain.CartLine
		if err := rows.Scan(&line.ID, &line.ProductID, &line.ProductName, &line.UnitPrice, &line.Quantity); err != nil {
			return nil, err
		}
		cart.Lines = append(cart.Lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return cart, nil
}

func (t *pgTx) DeleteCartLines(ctx context.Context, cartID string, lineIDs []string) (int64, error) {
	result, err := t.tx.ExecContext(ctx, `
		DELETE FROM cart_lines
		WHERE cart_id = $1 AND id = ANY($2)
	`, cartID, pq.Array(lineIDs))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (t *pgTx) InsertOrder(ctx context.Context, order *domain.Order) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, status, total, created_at, updated_at, gateway_order_ref, gateway_payment_ref)
		VALUES ($1, $2, $3, $4, $5, $5, NULLIF($6, ''), NULLIF($7, ''))
	`, order.ID, order.UserID, order.Status, order.Total, order.CreatedAt, order.GatewayOrderRef, order.GatewayPaymentRef)
	if err != nil {
		return err
	}

	for i, line := range order.Lines {
		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO order_lines (id, order_id, position, product_id, product_name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.New().String(), order.ID, i, line.ProductID, line.ProductName, line.Quantity, line.UnitPrice)
		if err != nil {
			return err
		}
	}

	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	return getOrder(ctx, t.tx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (t *pgTx) LockOrderByGatewayRef(ctx context.Context, gatewayOrderRef string) (*domain.Order, error) {
	return getOrder(ctx, t.tx, `SELECT `+orderColumns+` FROM orders WHERE gateway_order_ref = $1 FOR UPDATE`, gatewayOrderRef)
}

func (t *pgTx) SaveOrderState(ctx context.Context, order *domain.Order) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
			gateway_order_ref = NULLIF($3, ''),
			gateway_payment_ref = NULLIF($4, ''),
			updated_at = NOW()
		WHERE id = $1
	`, order.ID, order.Status, order.GatewayOrderRef, order.GatewayPaymentRef)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: order %s", ErrNotFound, order.ID)
	}

	return nil
}
