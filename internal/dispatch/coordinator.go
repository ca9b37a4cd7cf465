package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quickbite/dispatch/internal/eventbus"
	"github.com/quickbite/dispatch/internal/orderstore"
	"github.com/quickbite/dispatch/pkg/models"
)

var ErrMissingField = errors.New("missing required field")

// Coordinator orchestrates order mutations: every request is validated
// against current order state by the store, and every successful mutation is
// followed by exactly one event publication. It holds no lock of its own;
// assignment races are settled by the store's compare-and-set.
type Coordinator struct {
	store  orderstore.Store
	bus    *eventbus.Bus
	logger *logrus.Logger
}

func NewCoordinator(store orderstore.Store, bus *eventbus.Bus, logger *logrus.Logger) *Coordinator {
	return &Coordinator{
		store:  store,
		bus:    bus,
		logger: logger,
	}
}

func (c *Coordinator) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return c.store.Get(ctx, orderID)
}

func (c *Coordinator) PlaceOrder(ctx context.Context, draft *models.Order) (*models.Order, error) {
	order, err := c.store.Create(ctx, draft)
	if err != nil {
		return nil, err
	}

	c.bus.Publish(eventbus.OrderUpdated{Order: order, EmittedAt: time.Now()})
	return order, nil
}

// AcceptDelivery is the driver-accept path. Among concurrent accepts for the
// same order exactly one caller wins; the rest get ErrAlreadyAssigned.
func (c *Coordinator) AcceptDelivery(ctx context.Context, orderID, driverID string) (*models.Order, error) {
	if driverID == "" {
		return nil, ErrMissingField
	}

	order, err := c.store.AssignDriver(ctx, orderID, driverID)
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"order_id":  orderID,
		"driver_id": driverID,
	}).Info("Delivery accepted")

	c.bus.Publish(eventbus.OrderAssigned{
		Order:     order,
		DriverID:  driverID,
		EmittedAt: time.Now(),
	})
	return order, nil
}

func (c *Coordinator) UpdateStatus(ctx context.Context, orderID string, status models.Status, driverID string) (*models.Order, error) {
	if status == "" {
		return nil, ErrMissingField
	}

	order, err := c.store.Transition(ctx, orderID, status, driverID)
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"status":   status,
	}).Info("Order status updated")

	c.bus.Publish(eventbus.OrderUpdated{Order: order, EmittedAt: time.Now()})
	return order, nil
}
