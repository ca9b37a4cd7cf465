package orderstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quickbite/dispatch/pkg/models"
)

// Memory is the in-process order authority. The table is owned by the store
// and guarded by a single lock; callers only ever see clones, and the
// driver-assignment compare-and-set runs entirely under the write lock.
type Memory struct {
	mu     sync.RWMutex
	orders map[string]*models.Order
	logger *logrus.Logger
}

func NewMemory(logger *logrus.Logger) *Memory {
	return &Memory{
		orders: make(map[string]*models.Order),
		logger: logger,
	}
}

func (m *Memory) Get(ctx context.Context, id string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return order.Clone(), nil
}

func (m *Memory) Create(ctx context.Context, draft *models.Order) (*models.Order, error) {
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

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.orders[order.ID]; exists {
		return nil, ErrInvalidOrder
	}
	m.orders[order.ID] = order

	m.logger.WithFields(logrus.Fields{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
		"total":       order.Total,
		"items_count": len(order.Items),
	}).Info("Order created")

	return order.Clone(), nil
}

func (m *Memory) Transition(ctx context.Context, id string, target models.Status, driverID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if target == models.StatusAssigned || !target.Valid() || !models.CanTransition(order.Status, target) {
		return nil, ErrInvalidTransition
	}
	if driverID != "" && order.DriverID != driverID {
		return nil, ErrDriverMismatch
	}

	order.Status = target
	stampTransition(order, target, time.Now())
	if target == models.StatusCancelled {
		order.DriverID = ""
	}

	m.logger.WithFields(logrus.Fields{
		"order_id": order.ID,
		"status":   order.Status,
	}).Info("Order status changed")

	return order.Clone(), nil
}

func (m *Memory) AssignDriver(ctx context.Context, id, driverID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if order.DriverID != "" {
		return nil, ErrAlreadyAssigned
	}
	if order.Status != models.StatusReady {
		return nil, ErrNotReady
	}

	order.Status = models.StatusAssigned
	order.DriverID = driverID
	stampTransition(order, models.StatusAssigned, time.Now())

	m.logger.WithFields(logrus.Fields{
		"order_id":  order.ID,
		"driver_id": driverID,
	}).Info("Driver assigned to order")

	return order.Clone(), nil
}
