package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/quickbite/dispatch/internal/eventbus"
	"github.com/quickbite/dispatch/internal/orderstore"
	"github.com/quickbite/dispatch/internal/tracking"
	"github.com/quickbite/dispatch/pkg/models"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	bus := eventbus.New(logger)
	store := orderstore.NewMemory(logger)
	coordinator := NewCoordinator(store, bus, logger)
	reporter := tracking.NewReporter(bus, logger)
	handler := NewHandler(coordinator, reporter, logger)

	router := mux.NewRouter()
	handler.Register(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, method, url string, body interface{}, headers map[string]string) (int, models.OrderResponse, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	var parsed models.OrderResponse
	json.Unmarshal(raw, &parsed)
	return resp.StatusCode, parsed, raw
}

func createOrderViaAPI(t *testing.T, base string) *models.Order {
	t.Helper()
	status, resp, _ := doJSON(t, "POST", base+"/api/orders", map[string]interface{}{
		"customer_id": "cust-1",
		"address":     "42 Main St",
		"items": []map[string]interface{}{
			{"product_id": "pizza", "quantity": 1, "unit_price": 10.0},
		},
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("Expected 201 from create, got %d", status)
	}
	if resp.Order == nil {
		t.Fatal("Expected order in create response")
	}
	return resp.Order
}

func TestOrderEndpointsStatusMapping(t *testing.T) {
	server := newTestServer(t)
	base := server.URL

	order := createOrderViaAPI(t, base)

	// Read back.
	status, resp, _ := doJSON(t, "GET", base+"/api/orders/"+order.ID, nil, nil)
	if status != http.StatusOK || !resp.Success || resp.Order.Status != models.StatusPending {
		t.Errorf("Expected 200 PENDING order, got %d %+v", status, resp)
	}

	status, _, _ = doJSON(t, "GET", base+"/api/orders/no-such-order", nil, nil)
	if status != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown order, got %d", status)
	}

	// Missing status field.
	status, _, _ = doJSON(t, "PATCH", base+"/api/orders/"+order.ID, map[string]string{}, nil)
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing status, got %d", status)
	}

	// PENDING cannot jump to READY.
	status, _, _ = doJSON(t, "PATCH", base+"/api/orders/"+order.ID, map[string]string{"status": "READY"}, nil)
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for illegal transition, got %d", status)
	}

	// Accepting before READY is an invalid state.
	status, _, _ = doJSON(t, "POST", base+"/api/orders/"+order.ID+"/accept", map[string]string{"driverId": "d1"}, nil)
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for accept on PENDING order, got %d", status)
	}

	for _, s := range []string{"ACCEPTED", "PREPARING", "READY"} {
		status, resp, _ = doJSON(t, "PATCH", base+"/api/orders/"+order.ID, map[string]string{"status": s}, nil)
		if status != http.StatusOK {
			t.Fatalf("Expected 200 for transition to %s, got %d", s, status)
		}
	}

	// First accept wins...
	status, resp, _ = doJSON(t, "POST", base+"/api/orders/"+order.ID+"/accept", map[string]string{"driverId": "d1"}, nil)
	if status != http.StatusOK || resp.Order.DriverID != "d1" || resp.Order.Status != models.StatusAssigned {
		t.Errorf("Expected assignment to d1, got %d %+v", status, resp)
	}

	// ...the second driver is told the order is taken.
	status, _, raw := doJSON(t, "POST", base+"/api/orders/"+order.ID+"/accept", map[string]string{"driverId": "d2"}, nil)
	if status != http.StatusConflict {
		t.Errorf("Expected 409 for lost race, got %d (%s)", status, raw)
	}

	// Missing driverId.
	status, _, _ = doJSON(t, "POST", base+"/api/orders/"+order.ID+"/accept", map[string]string{}, nil)
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing driverId, got %d", status)
	}
}

func TestIdempotencyKeyReplaysResponse(t *testing.T) {
	server := newTestServer(t)
	base := server.URL

	order := createOrderViaAPI(t, base)
	headers := map[string]string{"Idempotency-Key": "mut-1"}

	status, resp, firstRaw := doJSON(t, "PATCH", base+"/api/orders/"+order.ID, map[string]string{"status": "ACCEPTED"}, headers)
	if status != http.StatusOK || resp.Order.Status != models.StatusAccepted {
		t.Fatalf("Expected 200 ACCEPTED, got %d %+v", status, resp)
	}

	// Without the key this would now be an invalid transition; with it the
	// recorded response is replayed and no second mutation happens.
	status, _, secondRaw := doJSON(t, "PATCH", base+"/api/orders/"+order.ID, map[string]string{"status": "ACCEPTED"}, headers)
	if status != http.StatusOK {
		t.Errorf("Expected replayed 200, got %d", status)
	}
	if !bytes.Equal(firstRaw, secondRaw) {
		t.Errorf("Expected identical replayed body, got %s vs %s", firstRaw, secondRaw)
	}

	// The order really did transition only once.
	status, resp, _ = doJSON(t, "GET", base+"/api/orders/"+order.ID, nil, nil)
	if status != http.StatusOK || resp.Order.Status != models.StatusAccepted {
		t.Errorf("Expected order still ACCEPTED, got %d %+v", status, resp)
	}
}

func TestLocationEndpoints(t *testing.T) {
	server := newTestServer(t)
	base := server.URL

	status, _, _ := doJSON(t, "GET", base+"/api/drivers/d1/location", nil, nil)
	if status != http.StatusNotFound {
		t.Errorf("Expected 404 before any report, got %d", status)
	}

	bad := map[string]interface{}{"location": map[string]interface{}{"lat": 91.0, "lng": 0.0}}
	status, _, _ = doJSON(t, "POST", base+"/api/drivers/d1/location", bad, nil)
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for out-of-range latitude, got %d", status)
	}

	good := map[string]interface{}{"location": map[string]interface{}{"lat": 52.52, "lng": 13.405, "heading": 90.0, "speed": 8.5}}
	status, _, _ = doJSON(t, "POST", base+"/api/drivers/d1/location", good, nil)
	if status != http.StatusAccepted {
		t.Errorf("Expected 202 for valid sample, got %d", status)
	}

	status, _, raw := doJSON(t, "GET", base+"/api/drivers/d1/location", nil, nil)
	if status != http.StatusOK {
		t.Errorf("Expected 200 after report, got %d", status)
	}
	var payload struct {
		Success  bool                  `json:"success"`
		DriverID string                `json:"driver_id"`
		Location models.DriverLocation `json:"location"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("decode location response: %v", err)
	}
	if fmt.Sprintf("%.2f", payload.Location.Latitude) != "52.52" {
		t.Errorf("Unexpected latitude: %v", payload.Location.Latitude)
	}
}
