package tracking

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quickbite/dispatch/internal/eventbus"
	"github.com/quickbite/dispatch/pkg/models"
)

var ErrInvalidSample = errors.New("invalid location sample")

// Reporter validates driver position ticks and republishes them as tracking
// events. No history is kept; only the latest sample per driver survives,
// for the live-view snapshot.
type Reporter struct {
	bus    *eventbus.Bus
	logger *logrus.Logger

	mu     sync.RWMutex
	latest map[string]models.DriverLocation
}

func NewReporter(bus *eventbus.Bus, logger *logrus.Logger) *Reporter {
	return &Reporter{
		bus:    bus,
		logger: logger,
		latest: make(map[string]models.DriverLocation),
	}
}

func (r *Reporter) Report(driverID string, sample models.DriverLocation) error {
	if driverID == "" {
		return ErrInvalidSample
	}
	if sample.Latitude < -90 || sample.Latitude > 90 {
		return ErrInvalidSample
	}
	if sample.Longitude < -180 || sample.Longitude > 180 {
		return ErrInvalidSample
	}
	if !isFinite(sample.Latitude) || !isFinite(sample.Longitude) ||
		!isFinite(sample.Heading) || !isFinite(sample.Speed) {
		return ErrInvalidSample
	}

	now := time.Now()
	if sample.Timestamp.IsZero() {
		sample.Timestamp = now
	}

	r.mu.Lock()
	r.latest[driverID] = sample
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"driver_id": driverID,
		"lat":       sample.Latitude,
		"lng":       sample.Longitude,
	}).Debug("Driver location reported")

	r.bus.Publish(eventbus.DriverLocationUpdated{
		DriverID:  driverID,
		Location:  sample,
		EmittedAt: now,
	})
	return nil
}

func (r *Reporter) Latest(driverID string) (models.DriverLocation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sample, ok := r.latest[driverID]
	return sample, ok
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
