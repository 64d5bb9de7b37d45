package cart

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/joao-fontenele/checkout-pipeline/internal/domain"
)

var (
	ErrCartNotFound    = errors.New("cart not found")
	ErrProductNotFound = errors.New("product not found")
	ErrLineNotFound    = errors.New("product not in cart")
)

type CartRepository struct {
	db *sql.DB
}

func NewCartRepository(db *sql.DB) *CartRepository {
	return &CartRepository{db: db}
}

// GetOrCreate returns the user's cart, creating it on first use.
func (r *CartRepository) GetOrCreate(ctx context.Context, userID string) (*domain.Cart, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO carts (id, user_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id
	`, uuid.New().String(), userID).Scan(&id)
	if err != nil {
		return nil, err
	}

	return r.Get(ctx, id)
}

// Get loads the cart with each line's current product name and price. It
// returns nil, nil when the cart does not exist.
func (r *CartRepository) Get(ctx context.Context, cartID string) (*domain.Cart, error) {
	c := &domain.Cart{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, created_at
		FROM carts
		WHERE id = $1
	`, cartID).Scan(&c.ID, &c.UserID, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
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

	c.Lines = []domain.CartLine{}
	for rows.Next() {
		var line domain.CartLine
		if err := rows.Scan(&line.ID, &line.ProductID, &line.ProductName, &line.UnitPrice, &line.Quantity); err != nil {
			return nil, err
		}
		c.Lines = append(c.Lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return c, nil
}

// AddLine adds quantity of productID to the cart, merging into the existing
// line for that product.
func (r *CartRepository) AddLine(ctx context.Context, cartID, productID string, quantity int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM carts WHERE id = $1 FOR UPDATE`, cartID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrCartNotFound
	}
	if err != nil {
		return err
	}

	var exists bool
	if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrProductNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cart_lines (id, cart_id, product_id, quantity, added_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (cart_id, product_id)
		DO UPDATE SET quantity = cart_lines.quantity + EXCLUDED.quantity
	`, uuid.New().String(), cartID, productID, quantity)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// RemoveLine deletes the line for productID. It takes the same cart lock as
// AddLine and checkout, so a removal either lands before a checkout reads the
// cart or waits until the checkout has committed.
func (r *CartRepository) RemoveLine(ctx context.Context, cartID, productID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	err = tx.QueryRowContext(ctx, `SELECT id FROM carts WHERE id = $1 FOR UPDATE`, cartID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrCartNotFound
	}
	if err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
		DELETE FROM cart_lines
		WHERE cart_id = $1 AND product_id = $2
	`, cartID, productID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrLineNotFound
	}

	return tx.Commit()
}
