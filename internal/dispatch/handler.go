package dispatch

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/quickbite/dispatch/internal/orderstore"
	"github.com/quickbite/dispatch/internal/tracking"
	"github.com/quickbite/dispatch/pkg/models"
)

const replayTTL = 10 * time.Minute

// LocationReporter ingests driver position ticks. Satisfied by
// tracking.Reporter; kept as an interface so the handler can be tested
// without the live feed.
type LocationReporter interface {
	Report(driverID string, sample models.DriverLocation) error
	Latest(driverID string) (models.DriverLocation, bool)
}

type Handler struct {
	coordinator *Coordinator
	reporter    LocationReporter
	logger      *logrus.Logger
	replays     *replayCache
}

func NewHandler(coordinator *Coordinator, reporter LocationReporter, logger *logrus.Logger) *Handler {
	return &Handler{
		coordinator: coordinator,
		reporter:    reporter,
		logger:      logger,
		replays:     newReplayCache(replayTTL),
	}
}

func (h *Handler) Register(router *mux.Router) {
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.HealthCheck).Methods("GET")
	api.HandleFunc("/orders", h.idempotent(h.CreateOrder)).Methods("POST")
	api.HandleFunc("/orders/{id}", h.GetOrder).Methods("GET")
	api.HandleFunc("/orders/{id}", h.idempotent(h.UpdateOrder)).Methods("PATCH")
	api.HandleFunc("/orders/{id}/accept", h.idempotent(h.AcceptOrder)).Methods("POST")
	api.HandleFunc("/drivers/{id}/location", h.ReportLocation).Methods("POST")
	api.HandleFunc("/drivers/{id}/location", h.GetLocation).Methods("GET")
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var draft models.Order
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		h.logger.WithError(err).Error("Failed to decode order request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.coordinator.PlaceOrder(r.Context(), &draft)
	if err != nil {
		h.respondWithOrderError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, models.OrderResponse{Success: true, Order: order})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	order, err := h.coordinator.GetOrder(r.Context(), orderID)
	if err != nil {
		h.respondWithOrderError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, models.OrderResponse{Success: true, Order: order})
}

func (h *Handler) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	var req struct {
		Status   models.Status `json:"status"`
		DriverID string        `json:"driverId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode status update request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.coordinator.UpdateStatus(r.Context(), orderID, req.Status, req.DriverID)
	if err != nil {
		h.respondWithOrderError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, models.OrderResponse{Success: true, Order: order})
}

func (h *Handler) AcceptOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	var req struct {
		DriverID string `json:"driverId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode accept request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	order, err := h.coordinator.AcceptDelivery(r.Context(), orderID, req.DriverID)
	if err != nil {
		h.respondWithOrderError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, models.OrderResponse{Success: true, Order: order})
}

func (h *Handler) ReportLocation(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["id"]

	var req struct {
		Location models.DriverLocation `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode location report")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.reporter.Report(driverID, req.Location); err != nil {
		h.respondWithOrderError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusAccepted, map[string]interface{}{"success": true})
}

func (h *Handler) GetLocation(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["id"]

	location, ok := h.reporter.Latest(driverID)
	if !ok {
		h.respondWithError(w, http.StatusNotFound, "No location reported for driver")
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"driver_id": driverID,
		"location":  location,
	})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "dispatch",
	})
}

// respondWithOrderError maps the typed failure results onto stable response
// codes so clients can distinguish a lost assignment race from bad input.
func (h *Handler) respondWithOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orderstore.ErrNotFound):
		h.respondWithError(w, http.StatusNotFound, "Order not found")
	case errors.Is(err, orderstore.ErrAlreadyAssigned):
		h.respondWithError(w, http.StatusConflict, "Order already taken")
	case errors.Is(err, orderstore.ErrNotReady):
		h.respondWithError(w, http.StatusBadRequest, "Order is not ready for pickup")
	case errors.Is(err, orderstore.ErrInvalidTransition):
		h.respondWithError(w, http.StatusBadRequest, "Cannot change order to that status from its current state")
	case errors.Is(err, orderstore.ErrDriverMismatch):
		h.respondWithError(w, http.StatusBadRequest, "Driver does not match the assigned driver")
	case errors.Is(err, orderstore.ErrInvalidOrder):
		h.respondWithError(w, http.StatusBadRequest, "Invalid order")
	case errors.Is(err, ErrMissingField):
		h.respondWithError(w, http.StatusBadRequest, "Missing required field")
	case errors.Is(err, tracking.ErrInvalidSample):
		h.respondWithError(w, http.StatusBadRequest, "Invalid location sample")
	default:
		h.logger.WithError(err).Error("Order operation failed")
		h.respondWithError(w, http.StatusInternalServerError, "Internal error")
	}
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

func LoggingMiddleware(logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			next.ServeHTTP(w, r)

			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"remote":   r.RemoteAddr,
				"duration": time.Since(start).Milliseconds(),
			}).Info("Request completed")
		})
	}
}
