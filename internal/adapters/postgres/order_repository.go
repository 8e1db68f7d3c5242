package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/billing-service/internal/domain"
	"github.com/kevin07696/billing-service/internal/domain/ports"
)

// OrderRepository implements ports.OrderRepository using pgx
type OrderRepository struct {
	db ports.DBPort
}

// NewOrderRepository creates a new order repository
func NewOrderRepository(db ports.DBPort) *OrderRepository {
	return &OrderRepository{db: db}
}

// GetByID retrieves an order by its merchant-supplied order ID
func (r *OrderRepository) GetByID(ctx context.Context, db ports.DBTX, orderID string) (*domain.Order, error) {
	query := `
		SELECT order_id, user_id, total_amount, status, ordered_at
		FROM orders
		WHERE order_id = $1
	`
	row := executor(r.db, db).QueryRow(ctx, query, orderID)

	var order domain.Order
	var status string
	err := row.Scan(&order.OrderID, &order.UserID, &order.TotalAmount, &status, &order.OrderedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound.WithDetail("order_id", orderID)
		}
		return nil, fmt.Errorf("get order by id: %w", err)
	}
	order.Status = domain.OrderStatus(status)
	return &order, nil
}

// Update updates the order status
func (r *OrderRepository) Update(ctx context.Context, tx ports.DBTX, order *domain.Order) error {
	query := `UPDATE orders SET status = $2 WHERE order_id = $1`
	_, err := executor(r.db, tx).Exec(ctx, query, order.OrderID, string(order.Status))
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}
