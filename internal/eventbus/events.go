package eventbus

import (
	"time"

	"github.com/quickbite/dispatch/pkg/models"
)

type Kind string

const (
	KindOrderAssigned         Kind = "order_assigned"
	KindOrderUpdated          Kind = "order_updated"
	KindDriverLocationUpdated Kind = "driver_location_updated"
)

// Event is a closed union: exactly one variant per kind, so subscribers
// switch on the concrete type instead of inspecting a string discriminator.
type Event interface {
	Kind() Kind
	Emitted() time.Time
}

type OrderAssigned struct {
	Order     *models.Order `json:"order"`
	DriverID  string        `json:"driver_id"`
	EmittedAt time.Time     `json:"timestamp"`
}

func (OrderAssigned) Kind() Kind           { return KindOrderAssigned }
func (e OrderAssigned) Emitted() time.Time { return e.EmittedAt }

type OrderUpdated struct {
	Order     *models.Order `json:"order"`
	EmittedAt time.Time     `json:"timestamp"`
}

func (OrderUpdated) Kind() Kind           { return KindOrderUpdated }
func (e OrderUpdated) Emitted() time.Time { return e.EmittedAt }

type DriverLocationUpdated struct {
	DriverID  string                `json:"driver_id"`
	Location  models.DriverLocation `json:"location"`
	EmittedAt time.Time             `json:"timestamp"`
}

func (DriverLocationUpdated) Kind() Kind           { return KindDriverLocationUpdated }
func (e DriverLocationUpdated) Emitted() time.Time { return e.EmittedAt }
