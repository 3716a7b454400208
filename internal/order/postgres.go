package order

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// RunMigrations applies the order-store schema to the database.
func RunMigrations(databaseURL string) error {
	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

const orderColumns = `id, number, order_key, status, currency, total, tax_total,
shipping_total, discount_total, transaction_id, last_reference, refunded_total,
payment_method, customer, billing, shipping`

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (Order, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return s.scanOrder(ctx, row)
}

// GetByNumber implements Store.
func (s *PostgresStore) GetByNumber(ctx context.Context, number string) (Order, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE number = $1`, number)
	return s.scanOrder(ctx, row)
}

func (s *PostgresStore) scanOrder(ctx context.Context, row pgx.Row) (Order, error) {
	var o Order
	var customer, billing, shipping []byte
	err := row.Scan(
		&o.ID, &o.Number, &o.Key, &o.Status, &o.Currency, &o.Total, &o.TaxTotal,
		&o.ShippingTotal, &o.DiscountTotal, &o.TransactionID, &o.LastReference,
		&o.RefundedTotal, &o.PaymentMethod, &customer, &billing, &shipping,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(customer, &o.Customer); err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(billing, &o.Billing); err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(shipping, &o.Shipping); err != nil {
		return Order{}, err
	}
	items, err := s.items(ctx, o.ID)
	if err != nil {
		return Order{}, err
	}
	o.Items = items
	return o, nil
}

func (s *PostgresStore) items(ctx context.Context, orderID string) ([]Item, error) {
	rows, err := s.Pool.Query(ctx, `SELECT name, sku, quantity, unit_price, subtotal, requires_shipping
FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.Name, &it.SKU, &it.Quantity, &it.UnitPrice, &it.Subtotal, &it.RequiresShipping); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// UpdateStatus implements Store.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddNote implements Store.
func (s *PostgresStore) AddNote(ctx context.Context, id string, text string, customerFacing bool) error {
	_, err := s.Pool.Exec(ctx, `INSERT INTO order_notes (order_id, note, customer_facing) VALUES ($1, $2, $3)`,
		id, text, customerFacing)
	return err
}

// PaymentComplete implements Store.
func (s *PostgresStore) PaymentComplete(ctx context.Context, id string, transactionID string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE orders SET
  transaction_id = $2,
  status = CASE WHEN EXISTS (
      SELECT 1 FROM order_items WHERE order_id = orders.id AND requires_shipping
  ) THEN 'processing' ELSE 'completed' END,
  updated_at = now()
WHERE id = $1`, id, transactionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPaymentMethod implements Store.
func (s *PostgresStore) SetPaymentMethod(ctx context.Context, id string, title string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE orders SET payment_method = $2, updated_at = now() WHERE id = $1`, id, title)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetLastReference implements Store.
func (s *PostgresStore) SetLastReference(ctx context.Context, id string, reference string) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE orders SET last_reference = $2, updated_at = now() WHERE id = $1`, id, reference)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddRefund implements Store.
func (s *PostgresStore) AddRefund(ctx context.Context, id string, amount float64, reference string) (float64, error) {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `INSERT INTO order_refunds (order_id, amount, reference) VALUES ($1, $2, $3)`,
		id, amount, reference); err != nil {
		return 0, err
	}
	var total float64
	err = tx.QueryRow(ctx, `UPDATE orders SET refunded_total = refunded_total + $2, updated_at = now()
WHERE id = $1 RETURNING refunded_total`, id, amount).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return total, nil
}

// ListOnHold implements Store.
func (s *PostgresStore) ListOnHold(ctx context.Context) ([]Order, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id FROM orders WHERE status = $1 AND last_reference <> ''`, StatusOnHold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	orders := make([]Order, 0, len(ids))
	for _, id := range ids {
		o, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}
