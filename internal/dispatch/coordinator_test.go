package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/quickbite/dispatch/internal/eventbus"
	"github.com/quickbite/dispatch/internal/orderstore"
	"github.com/quickbite/dispatch/pkg/models"
)

func newTestCoordinator() (*Coordinator, *eventbus.Bus) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	bus := eventbus.New(logger)
	store := orderstore.NewMemory(logger)
	return NewCoordinator(store, bus, logger), bus
}

func placeReadyOrder(t *testing.T, c *Coordinator) *models.Order {
	t.Helper()
	ctx := context.Background()
	order, err := c.PlaceOrder(ctx, &models.Order{
		CustomerID: "cust-1",
		Address:    "42 Main St",
		Items:      []models.OrderItem{{ProductID: "pizza", Quantity: 1, UnitPrice: 10}},
	})
	if err != nil {
		t.Fatalf("PlaceOrder failed: %v", err)
	}
	for _, s := range []models.Status{models.StatusAccepted, models.StatusPreparing, models.StatusReady} {
		if order, err = c.UpdateStatus(ctx, order.ID, s, ""); err != nil {
			t.Fatalf("UpdateStatus(%s) failed: %v", s, err)
		}
	}
	return order
}

func TestAcceptDeliveryPublishesOrderAssigned(t *testing.T) {
	c, bus := newTestCoordinator()
	order := placeReadyOrder(t, c)

	var got []eventbus.OrderAssigned
	bus.Subscribe(eventbus.KindOrderAssigned, func(ev eventbus.Event) {
		got = append(got, ev.(eventbus.OrderAssigned))
	})

	assigned, err := c.AcceptDelivery(context.Background(), order.ID, "d1")
	if err != nil {
		t.Fatalf("AcceptDelivery failed: %v", err)
	}
	if assigned.Status != models.StatusAssigned || assigned.DriverID != "d1" {
		t.Errorf("Expected ASSIGNED/d1, got %s/%s", assigned.Status, assigned.DriverID)
	}

	if len(got) != 1 {
		t.Fatalf("Expected one OrderAssigned event, got %d", len(got))
	}
	if got[0].DriverID != "d1" || got[0].Order.ID != order.ID {
		t.Errorf("Event payload mismatch: %+v", got[0])
	}
}

func TestAcceptDeliveryValidation(t *testing.T) {
	c, _ := newTestCoordinator()
	ctx := context.Background()

	if _, err := c.AcceptDelivery(ctx, "o1", ""); !errors.Is(err, ErrMissingField) {
		t.Errorf("Expected ErrMissingField, got %v", err)
	}
	if _, err := c.AcceptDelivery(ctx, "no-such-order", "d1"); !errors.Is(err, orderstore.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	order, _ := c.PlaceOrder(ctx, &models.Order{
		CustomerID: "cust-1",
		Address:    "42 Main St",
		Items:      []models.OrderItem{{ProductID: "pizza", Quantity: 1, UnitPrice: 10}},
	})
	if _, err := c.AcceptDelivery(ctx, order.ID, "d1"); !errors.Is(err, orderstore.ErrNotReady) {
		t.Errorf("Expected ErrNotReady for PENDING order, got %v", err)
	}
}

func TestAcceptDeliveryRace(t *testing.T) {
	c, bus := newTestCoordinator()
	order := placeReadyOrder(t, c)

	var eventMu sync.Mutex
	events := 0
	bus.Subscribe(eventbus.KindOrderAssigned, func(eventbus.Event) {
		eventMu.Lock()
		events++
		eventMu.Unlock()
	})

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, driver := range []string{"d1", "d2"} {
		wg.Add(1)
		go func(slot int, driverID string) {
			defer wg.Done()
			_, results[slot] = c.AcceptDelivery(context.Background(), order.ID, driverID)
		}(i, driver)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, orderstore.ErrAlreadyAssigned):
		default:
			t.Errorf("Unexpected race outcome: %v", err)
		}
	}
	if winners != 1 {
		t.Errorf("Expected exactly one winner, got %d", winners)
	}
	if events != 1 {
		t.Errorf("Expected exactly one OrderAssigned publication, got %d", events)
	}
}

func TestUpdateStatusPublishesOrderUpdated(t *testing.T) {
	c, bus := newTestCoordinator()
	ctx := context.Background()

	order, _ := c.PlaceOrder(ctx, &models.Order{
		CustomerID: "cust-1",
		Address:    "42 Main St",
		Items:      []models.OrderItem{{ProductID: "pizza", Quantity: 1, UnitPrice: 10}},
	})

	var got []eventbus.OrderUpdated
	bus.Subscribe(eventbus.KindOrderUpdated, func(ev eventbus.Event) {
		got = append(got, ev.(eventbus.OrderUpdated))
	})

	if _, err := c.UpdateStatus(ctx, order.ID, "", ""); !errors.Is(err, ErrMissingField) {
		t.Errorf("Expected ErrMissingField, got %v", err)
	}
	if len(got) != 0 {
		t.Error("Failed update must not publish")
	}

	if _, err := c.UpdateStatus(ctx, order.ID, models.StatusAccepted, ""); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if len(got) != 1 || got[0].Order.Status != models.StatusAccepted {
		t.Errorf("Expected one OrderUpdated(ACCEPTED) event, got %+v", got)
	}
}
