package tracking

import (
	"errors"
	"math"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/quickbite/dispatch/internal/eventbus"
	"github.com/quickbite/dispatch/pkg/models"
)

func newTestReporter() (*Reporter, *eventbus.Bus) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	bus := eventbus.New(logger)
	return NewReporter(bus, logger), bus
}

func TestReportRejectsInvalidSamples(t *testing.T) {
	reporter, bus := newTestReporter()

	published := 0
	bus.Subscribe(eventbus.KindDriverLocationUpdated, func(eventbus.Event) { published++ })

	bad := []struct {
		name     string
		driverID string
		sample   models.DriverLocation
	}{
		{"empty driver id", "", models.DriverLocation{Latitude: 10, Longitude: 10}},
		{"latitude too high", "d1", models.DriverLocation{Latitude: 90.1, Longitude: 0}},
		{"latitude too low", "d1", models.DriverLocation{Latitude: -90.1, Longitude: 0}},
		{"longitude too high", "d1", models.DriverLocation{Latitude: 0, Longitude: 180.1}},
		{"longitude too low", "d1", models.DriverLocation{Latitude: 0, Longitude: -180.1}},
		{"NaN heading", "d1", models.DriverLocation{Latitude: 0, Longitude: 0, Heading: math.NaN()}},
		{"infinite speed", "d1", models.DriverLocation{Latitude: 0, Longitude: 0, Speed: math.Inf(1)}},
	}

	for _, tc := range bad {
		if err := reporter.Report(tc.driverID, tc.sample); !errors.Is(err, ErrInvalidSample) {
			t.Errorf("%s: expected ErrInvalidSample, got %v", tc.name, err)
		}
	}

	if published != 0 {
		t.Errorf("Invalid samples must not be published, got %d events", published)
	}
}

func TestReportPublishesAndTracksLatest(t *testing.T) {
	reporter, bus := newTestReporter()

	var got []eventbus.DriverLocationUpdated
	bus.Subscribe(eventbus.KindDriverLocationUpdated, func(ev eventbus.Event) {
		got = append(got, ev.(eventbus.DriverLocationUpdated))
	})

	if _, ok := reporter.Latest("d1"); ok {
		t.Error("Expected no sample before first report")
	}

	first := models.DriverLocation{Latitude: 52.52, Longitude: 13.405, Heading: 90, Speed: 8.5}
	if err := reporter.Report("d1", first); err != nil {
		t.Fatalf("Report failed: %v", err)
	}

	second := models.DriverLocation{Latitude: 52.53, Longitude: 13.41, Heading: 92, Speed: 9}
	if err := reporter.Report("d1", second); err != nil {
		t.Fatalf("Report failed: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(got))
	}
	if got[0].DriverID != "d1" || got[0].Location.Latitude != 52.52 {
		t.Errorf("Unexpected first event: %+v", got[0])
	}
	if got[0].EmittedAt.IsZero() || got[0].Location.Timestamp.IsZero() {
		t.Error("Expected server-side timestamps to be stamped")
	}

	// Only the most recent sample is retained.
	latest, ok := reporter.Latest("d1")
	if !ok || latest.Latitude != 52.53 {
		t.Errorf("Expected latest sample 52.53, got %+v (ok=%v)", latest, ok)
	}
}

func TestBoundaryCoordinatesAreValid(t *testing.T) {
	reporter, _ := newTestReporter()

	corners := []models.DriverLocation{
		{Latitude: 90, Longitude: 180},
		{Latitude: -90, Longitude: -180},
	}
	for _, sample := range corners {
		if err := reporter.Report("d1", sample); err != nil {
			t.Errorf("Expected boundary sample %+v to be valid, got %v", sample, err)
		}
	}
}
