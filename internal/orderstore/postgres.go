package orderstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quickbite/dispatch/pkg/models"
)

// Postgres keeps order state in a relational table. The driver assignment is
// a single conditional UPDATE so the compare-and-set happens inside the
// database, not as a read-then-write pair.
type Postgres struct {
	db     *sql.DB
	logger *logrus.Logger
}

func NewPostgres(db *sql.DB, logger *logrus.Logger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(255) PRIMARY KEY,
			customer_id VARCHAR(255) NOT NULL,
			subtotal DECIMAL(10,2) NOT NULL,
			delivery_fee DECIMAL(10,2) NOT NULL,
			total DECIMAL(10,2) NOT NULL,
			status VARCHAR(20) NOT NULL,
			driver_id VARCHAR(255),
			address TEXT NOT NULL,
			city VARCHAR(255),
			phone VARCHAR(64),
			created_at TIMESTAMPTZ NOT NULL,
			accepted_at TIMESTAMPTZ,
			preparing_at TIMESTAMPTZ,
			ready_at TIMESTAMPTZ,
			assigned_at TIMESTAMPTZ,
			delivered_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id SERIAL PRIMARY KEY,
			order_id VARCHAR(255) NOT NULL REFERENCES orders(id),
			product_id VARCHAR(255) NOT NULL,
			name VARCHAR(255),
			quantity INTEGER NOT NULL,
			unit_price DECIMAL(10,2) NOT NULL,
			subtotal DECIMAL(10,2) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_driver_id ON orders(driver_id)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id)`,
	}

	for _, query := range queries {
		if _, err := p.db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

const orderColumns = `id, customer_id, subtotal, delivery_fee, total, status, driver_id,
	address, city, phone, created_at, accepted_at, preparing_at, ready_at, assigned_at, delivered_at`

func (p *Postgres) Get(ctx context.Context, id string) (*models.Order, error) {
	order, err := p.getOrder(ctx, p.db, id)
	if err != nil {
		return nil, err
	}
	if err := p.loadItems(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (p *Postgres) getOrder(ctx context.Context, q queryer, id string) (*models.Order, error) {
	order := &models.Order{}
	var driverID, city, phone sql.NullString
	err := q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id).Scan(
		&order.ID, &order.CustomerID, &order.Subtotal, &order.DeliveryFee, &order.Total,
		&order.Status, &driverID, &order.Address, &city, &phone, &order.CreatedAt,
		&order.AcceptedAt, &order.PreparingAt, &order.ReadyAt, &order.AssignedAt, &order.DeliveredAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	order.DriverID = driverID.String
	order.City = city.String
	order.Phone = phone.String
	return order, nil
}

func (p *Postgres) loadItems(ctx context.Context, order *models.Order) error {
	rows, err := p.db.QueryContext(ctx,
		`SELECT product_id, name, quantity, unit_price, subtotal FROM order_items WHERE order_id = $1 ORDER BY id`,
		order.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var item models.OrderItem
		var name sql.NullString
		if err := rows.Scan(&item.ProductID, &name, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return err
		}
		item.Name = name.String
		order.Items = append(order.Items, item)
	}
	return rows.Err()
}

func (p *Postgres) Create(ctx context.Context, draft *models.Order) (*models.Order, error) {
	order := draft.Clone()
	if err := normalizeDraft(order); err != nil {
		return nil, err
	}
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, subtotal, delivery_fee, total, status, address, city, phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		order.ID, order.CustomerID, order.Subtotal, order.DeliveryFee, order.Total,
		order.Status, order.Address, order.City, order.Phone, order.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, name, quantity, unit_price, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			order.ID, item.ProductID, item.Name, item.Quantity, item.UnitPrice, item.Subtotal)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	p.logger.WithFields(logrus.Fields{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
		"total":       order.Total,
	}).Info("Order created")

	return order, nil
}

func transitionColumn(s models.Status) string {
	switch s {
	case models.StatusAccepted:
		return "accepted_at"
	case models.StatusPreparing:
		return "preparing_at"
	case models.StatusReady:
		return "ready_at"
	case models.StatusDelivered:
		return "delivered_at"
	}
	return ""
}

func (p *Postgres) Transition(ctx context.Context, id string, target models.Status, driverID string) (*models.Order, error) {
	if target == models.StatusAssigned || !target.Valid() {
		return nil, ErrInvalidTransition
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var current models.Status
	var assigned sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT status, driver_id FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&current, &assigned)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(current, target) {
		return nil, ErrInvalidTransition
	}
	if driverID != "" && assigned.String != driverID {
		return nil, ErrDriverMismatch
	}

	query := `UPDATE orders SET status = $2`
	if col := transitionColumn(target); col != "" {
		query += `, ` + col + ` = COALESCE(` + col + `, NOW())`
	}
	if target == models.StatusCancelled {
		query += `, driver_id = NULL`
	}
	query += ` WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query, id, target); err != nil {
		return nil, err
	}

	order, err := p.getOrder(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if err := p.loadItems(ctx, order); err != nil {
		return nil, err
	}

	p.logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"status":   order.Status,
	}).Info("Order status changed")

	return order, nil
}

func (p *Postgres) AssignDriver(ctx context.Context, id, driverID string) (*models.Order, error) {
	// Single conditional write: the precondition and the assignment are one
	// statement, so two concurrent accepts cannot both match the row.
	res, err := p.db.ExecContext(ctx, `
		UPDATE orders SET status = $2, driver_id = $3, assigned_at = NOW()
		WHERE id = $1 AND status = $4 AND driver_id IS NULL`,
		id, models.StatusAssigned, driverID, models.StatusReady)
	if err != nil {
		return nil, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Re-read only to classify the failure for the caller.
		var status models.Status
		var assigned sql.NullString
		err := p.db.QueryRowContext(ctx,
			`SELECT status, driver_id FROM orders WHERE id = $1`, id).Scan(&status, &assigned)
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		if assigned.Valid && assigned.String != "" {
			return nil, ErrAlreadyAssigned
		}
		return nil, ErrNotReady
	}

	p.logger.WithFields(logrus.Fields{
		"order_id":  id,
		"driver_id": driverID,
	}).Info("Driver assigned to order")

	return p.Get(ctx, id)
}
