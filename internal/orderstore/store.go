package orderstore

import (
	"context"
	"errors"
	"time"

	"github.com/quickbite/dispatch/pkg/models"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyAssigned   = errors.New("order already assigned to a driver")
	ErrNotReady          = errors.New("order is not ready for pickup")
	ErrDriverMismatch    = errors.New("driver does not match assigned driver")
	ErrInvalidOrder      = errors.New("invalid order")
)

// Store is the single writer of order state. Everything else reads snapshots
// or requests transitions through it.
type Store interface {
	Get(ctx context.Context, id string) (*models.Order, error)
	Create(ctx context.Context, draft *models.Order) (*models.Order, error)

	// Transition applies the lifecycle table and stamps the transition time.
	// ASSIGNED is rejected here; it is only reachable via AssignDriver. When
	// driverID is non-empty it must match the currently assigned driver.
	Transition(ctx context.Context, id string, target models.Status, driverID string) (*models.Order, error)

	// AssignDriver is the one hard concurrency point: the status==READY &&
	// driver-unset check and the write to ASSIGNED are a single atomic step,
	// so concurrent accepts yield exactly one winner.
	AssignDriver(ctx context.Context, id, driverID string) (*models.Order, error)
}

// normalizeDraft validates a creation request and computes the monetary
// totals from the line items.
func normalizeDraft(draft *models.Order) error {
	if draft == nil || len(draft.Items) == 0 || draft.Address == "" {
		return ErrInvalidOrder
	}
	if draft.DeliveryFee < 0 {
		return ErrInvalidOrder
	}
	subtotal := 0.0
	for i := range draft.Items {
		item := &draft.Items[i]
		if item.ProductID == "" || item.Quantity <= 0 || item.UnitPrice < 0 {
			return ErrInvalidOrder
		}
		item.Subtotal = float64(item.Quantity) * item.UnitPrice
		subtotal += item.Subtotal
	}
	draft.Subtotal = subtotal
	draft.Total = subtotal + draft.DeliveryFee
	draft.Status = models.StatusPending
	draft.DriverID = ""
	draft.AcceptedAt = nil
	draft.PreparingAt = nil
	draft.ReadyAt = nil
	draft.AssignedAt = nil
	draft.DeliveredAt = nil
	return nil
}

// stampTransition records the per-status timestamp, each set at most once.
func stampTransition(order *models.Order, target models.Status, now time.Time) {
	switch target {
	case models.StatusAccepted:
		if order.AcceptedAt == nil {
			order.AcceptedAt = &now
		}
	case models.StatusPreparing:
		if order.PreparingAt == nil {
			order.PreparingAt = &now
		}
	case models.StatusReady:
		if order.ReadyAt == nil {
			order.ReadyAt = &now
		}
	case models.StatusAssigned:
		if order.AssignedAt == nil {
			order.AssignedAt = &now
		}
	case models.StatusDelivered:
		if order.DeliveredAt == nil {
			order.DeliveredAt = &now
		}
	}
}
