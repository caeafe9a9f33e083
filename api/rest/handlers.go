package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/alexnthnz/wishlist-pipeline/internal/analytics"
	"github.com/alexnthnz/wishlist-pipeline/internal/monitoring"
	"github.com/alexnthnz/wishlist-pipeline/internal/notification"
	"github.com/alexnthnz/wishlist-pipeline/internal/queue"
)

// EventPublisher hands analytics events to the asynchronous pipeline
type EventPublisher interface {
	PublishEvent(ctx context.Context, msg queue.EventMessage) error
}

// Handler holds dependencies for REST API handlers
type Handler struct {
	analyticsService    *analytics.Service
	notificationService *notification.Service
	publisher           EventPublisher
	siteURL             *url.URL
	metrics             *monitoring.Metrics
	logger              *zap.Logger
	validator           *validator.Validate
}

// NewHandler creates a new REST API handler. With a nil publisher events are
// applied to the counters synchronously.
func NewHandler(
	analyticsService *analytics.Service,
	notificationService *notification.Service,
	publisher EventPublisher,
	siteURL string,
	metrics *monitoring.Metrics,
	logger *zap.Logger,
) (*Handler, error) {
	site, err := url.Parse(siteURL)
	if err != nil || site.Host == "" {
		return nil, fmt.Errorf("invalid site url %q", siteURL)
	}

	return &Handler{
		analyticsService:    analyticsService,
		notificationService: notificationService,
		publisher:           publisher,
		siteURL:             site,
		metrics:             metrics,
		logger:              logger,
		validator:           validator.New(),
	}, nil
}

// TrackEventRequest represents the request body for tracking an event
type TrackEventRequest struct {
	ProductID   int64  `json:"product_id" validate:"required,gt=0"`
	VariationID int64  `json:"variation_id" validate:"gte=0"`
	Event       string `json:"event" validate:"required"`
}

// QueueNotificationResponse represents the response for queued notifications
type QueueNotificationResponse struct {
	ID      int64  `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// RecalculateResponse summarises an analytics reconciliation run
type RecalculateResponse struct {
	Processed int      `json:"processed"`
	Updated   int      `json:"updated"`
	Errors    []string `json:"errors,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// TrackEvent handles POST /events
func (h *Handler) TrackEvent(w http.ResponseWriter, r *http.Request) {
	defer h.observe("track_event", time.Now())

	var req TrackEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.writeErrorResponse(w, fmt.Sprintf("Validation error: %v", err), http.StatusBadRequest)
		return
	}
	event, err := analytics.ParseEventType(req.Event)
	if err != nil {
		h.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.publisher != nil {
		msg := queue.EventMessage{
			ProductID:   req.ProductID,
			VariationID: req.VariationID,
			Event:       event,
			OccurredAt:  time.Now().UTC(),
		}
		if err := h.publisher.PublishEvent(r.Context(), msg); err != nil {
			h.logger.Error("Failed to publish event", zap.Error(err))
			h.writeErrorResponse(w, "Failed to record event", http.StatusServiceUnavailable)
			return
		}
		h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		return
	}

	key := analytics.Key{ProductID: req.ProductID, VariationID: req.VariationID}
	counters, err := h.analyticsService.TrackEvent(r.Context(), key, event)
	if err != nil {
		h.logger.Error("Failed to track event", zap.String("key", key.String()), zap.Error(err))
		h.writeErrorResponse(w, "Failed to record event", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, counters)
}

// GetAnalytics handles GET /analytics/{product}/{variation}
func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	defer h.observe("get_analytics", time.Now())

	vars := mux.Vars(r)
	productID, err1 := strconv.ParseInt(vars["product"], 10, 64)
	variationID, err2 := strconv.ParseInt(vars["variation"], 10, 64)
	if err1 != nil || err2 != nil {
		h.writeErrorResponse(w, "Product and variation must be integers", http.StatusBadRequest)
		return
	}

	counters, err := h.analyticsService.Get(r.Context(), analytics.Key{ProductID: productID, VariationID: variationID})
	if err != nil {
		if errors.Is(err, analytics.ErrNotFound) {
			h.writeErrorResponse(w, "No analytics for this product", http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to get analytics", zap.Error(err))
		h.writeErrorResponse(w, "Failed to retrieve analytics", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, counters)
}

// RecalculateAnalytics handles POST /analytics/recalculate
func (h *Handler) RecalculateAnalytics(w http.ResponseWriter, r *http.Request) {
	defer h.observe("recalculate_analytics", time.Now())

	res := h.analyticsService.RecalculateAll(r.Context())
	resp := RecalculateResponse{Processed: res.Processed, Updated: res.Updated}
	for _, err := range res.Errors {
		resp.Errors = append(resp.Errors, err.Error())
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// QueueNotification handles POST /notifications
func (h *Handler) QueueNotification(w http.ResponseWriter, r *http.Request) {
	defer h.observe("queue_notification", time.Now())

	var req notification.QueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	id, err := h.notificationService.Queue(r.Context(), req)
	if err != nil {
		if errors.Is(err, notification.ErrValidation) {
			h.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error("Failed to queue notification", zap.Error(err))
		h.writeErrorResponse(w, "Failed to queue notification", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, QueueNotificationResponse{
		ID:      id,
		Status:  string(notification.StatusPending),
		Message: "Notification queued successfully",
	})
}

// GetNotification handles GET /notifications/{id}
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	defer h.observe("get_notification", time.Now())

	id, ok := h.notificationID(w, r)
	if !ok {
		return
	}

	rec, err := h.notificationService.Get(r.Context(), id)
	if err != nil {
		h.writeNotificationError(w, id, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

// CancelNotification handles POST /notifications/{id}/cancel
func (h *Handler) CancelNotification(w http.ResponseWriter, r *http.Request) {
	defer h.observe("cancel_notification", time.Now())

	id, ok := h.notificationID(w, r)
	if !ok {
		return
	}
	if err := h.notificationService.Cancel(r.Context(), id); err != nil {
		h.writeNotificationError(w, id, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(notification.StatusCancelled)})
}

// RequeueNotification handles POST /notifications/{id}/requeue
func (h *Handler) RequeueNotification(w http.ResponseWriter, r *http.Request) {
	defer h.observe("requeue_notification", time.Now())

	id, ok := h.notificationID(w, r)
	if !ok {
		return
	}
	if err := h.notificationService.Requeue(r.Context(), id); err != nil {
		h.writeNotificationError(w, id, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(notification.StatusPending)})
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "wishlist-api",
	}
	h.writeJSON(w, http.StatusOK, health)
}

// Metrics handles GET /metrics (Prometheus metrics)
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.Handler().ServeHTTP(w, r)
}

func (h *Handler) notificationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		h.writeErrorResponse(w, "Notification ID must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *Handler) writeNotificationError(w http.ResponseWriter, id int64, err error) {
	switch {
	case errors.Is(err, notification.ErrNotFound):
		h.writeErrorResponse(w, "Notification not found", http.StatusNotFound)
	case errors.Is(err, notification.ErrNotDispatchable):
		h.writeErrorResponse(w, "Notification is not in a state that allows this operation", http.StatusConflict)
	default:
		h.logger.Error("Notification operation failed", zap.Int64("id", id), zap.Error(err))
		h.writeErrorResponse(w, "Internal error", http.StatusInternalServerError)
	}
}

func (h *Handler) observe(operation string, start time.Time) {
	h.metrics.RecordRequestDuration(operation, time.Since(start).Seconds())
}

func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("Failed to encode response", zap.Error(err))
	}
}

// writeErrorResponse writes an error response
func (h *Handler) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	h.writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// SetupRoutes sets up all REST API routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/events", h.TrackEvent).Methods("POST")
	api.HandleFunc("/analytics/recalculate", h.RecalculateAnalytics).Methods("POST")
	api.HandleFunc("/analytics/{product:[0-9]+}/{variation:[0-9]+}", h.GetAnalytics).Methods("GET")
	api.HandleFunc("/notifications", h.QueueNotification).Methods("POST")
	api.HandleFunc("/notifications/{id}", h.GetNotification).Methods("GET")
	api.HandleFunc("/notifications/{id}/cancel", h.CancelNotification).Methods("POST")
	api.HandleFunc("/notifications/{id}/requeue", h.RequeueNotification).Methods("POST")

	// email tracking links
	router.HandleFunc("/t/open/{id}", h.TrackOpen).Methods("GET")
	router.HandleFunc("/t/click/{id}", h.TrackClick).Methods("GET")

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/metrics", h.Metrics).Methods("GET")

	router.Use(h.loggingMiddleware)
	router.Use(h.corsMiddleware)

	return router
}

// loggingMiddleware logs HTTP requests
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(recorder, r)

		h.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", recorder.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}

// corsMiddleware adds CORS headers
func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// responseRecorder wraps http.ResponseWriter to capture status code
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
