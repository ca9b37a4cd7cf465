package models

import (
	"time"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusAccepted   Status = "ACCEPTED"
	StatusPreparing  Status = "PREPARING"
	StatusReady      Status = "READY"
	StatusAssigned   Status = "ASSIGNED"
	StatusInDelivery Status = "IN_DELIVERY"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
)

// allowedTransitions is the full lifecycle table. CANCELLED is the abort path
// from every non-terminal state. READY -> ASSIGNED appears here but is only
// reachable through the driver-accept operation, never a plain transition.
var allowedTransitions = map[Status][]Status{
	StatusPending:    {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusPreparing, StatusCancelled},
	StatusPreparing:  {StatusReady, StatusCancelled},
	StatusReady:      {StatusAssigned, StatusCancelled},
	StatusAssigned:   {StatusInDelivery, StatusCancelled},
	StatusInDelivery: {StatusDelivered, StatusCancelled},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusPreparing, StatusReady,
		StatusAssigned, StatusInDelivery, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// RequiresDriver reports whether an order in this status must carry a driver.
// The converse also holds: outside these statuses the driver id must be unset.
func (s Status) RequiresDriver() bool {
	return s == StatusAssigned || s == StatusInDelivery || s == StatusDelivered
}

func CanTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type OrderItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name,omitempty"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
	Subtotal  float64 `json:"subtotal"`
}

type Order struct {
	ID          string      `json:"id"`
	CustomerID  string      `json:"customer_id"`
	Items       []OrderItem `json:"items"`
	Subtotal    float64     `json:"subtotal"`
	DeliveryFee float64     `json:"delivery_fee"`
	Total       float64     `json:"total"`
	Status      Status      `json:"status"`
	DriverID    string      `json:"driver_id,omitempty"`
	Address     string      `json:"address"`
	City        string      `json:"city,omitempty"`
	Phone       string      `json:"phone,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	AcceptedAt  *time.Time  `json:"accepted_at,omitempty"`
	PreparingAt *time.Time  `json:"preparing_at,omitempty"`
	ReadyAt     *time.Time  `json:"ready_at,omitempty"`
	AssignedAt  *time.Time  `json:"assigned_at,omitempty"`
	DeliveredAt *time.Time  `json:"delivered_at,omitempty"`
}

// Clone returns a deep copy so callers outside the store only ever hold
// snapshots of order state.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	c.AcceptedAt = cloneTime(o.AcceptedAt)
	c.PreparingAt = cloneTime(o.PreparingAt)
	c.ReadyAt = cloneTime(o.ReadyAt)
	c.AssignedAt = cloneTime(o.AssignedAt)
	c.DeliveredAt = cloneTime(o.DeliveredAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

type OrderResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Order   *Order `json:"order,omitempty"`
}
