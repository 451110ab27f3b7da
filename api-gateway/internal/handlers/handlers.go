package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/aaronwang/bidlord/shared/apperr"
	"github.com/aaronwang/bidlord/shared/models"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// UserHeader carries the authenticated user's id, set by the upstream auth proxy
const UserHeader = "X-User-ID"

// Bidding is the bid and auction side of the gateway
type Bidding interface {
	SubmitBid(ctx context.Context, auctionID uuid.UUID, userID string, req *models.BidRequest) (*models.BidQueuedResponse, error)
	GetAuction(ctx context.Context, id uuid.UUID) (*models.AuctionView, error)
	ListAuctions(ctx context.Context, live bool, limit int) ([]*models.AuctionDetail, error)
}

// Items is the item registration side of the gateway
type Items interface {
	CreateItem(ctx context.Context, creatorID string, req *models.ItemRequest) (*models.AuctionItem, error)
	GetItem(ctx context.Context, id uuid.UUID) (*models.AuctionItem, error)
	UpdateItem(ctx context.Context, userID string, id uuid.UUID, req *models.ItemRequest) (*models.AuctionItem, error)
	DeleteItem(ctx context.Context, userID string, id uuid.UUID) error
}

// Handler contains HTTP request handlers
type Handler struct {
	bidding Bidding
	items   Items
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(bidding Bidding, items Items, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{bidding: bidding, items: items, logger: logger}
}

// SetupRoutes configures all HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	// Health check
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")

	// API routes
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auctions", h.ListAuctions).Methods("GET")
	api.HandleFunc("/auctions/{id}", h.GetAuction).Methods("GET")
	api.HandleFunc("/auctions/{id}/bids", h.PlaceBid).Methods("POST")
	api.HandleFunc("/items", h.CreateItem).Methods("POST")
	api.HandleFunc("/items/{id}", h.GetItem).Methods("GET")
	api.HandleFunc("/items/{id}", h.UpdateItem).Methods("PUT")
	api.HandleFunc("/items/{id}", h.DeleteItem).Methods("DELETE")

	// Middleware
	router.Use(h.loggingMiddleware)
	router.Use(corsMiddleware)

	return router
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "api-gateway",
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// PlaceBid queues a bid. It answers 202 as soon as the job is durable.
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	auctionID, ok := pathID(w, r)
	if !ok {
		return
	}

	userID := r.Header.Get(UserHeader)
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "User ID is required")
		return
	}

	// Parse request body
	var bidReq models.BidRequest
	if err := json.NewDecoder(r.Body).Decode(&bidReq); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	response, err := h.bidding.SubmitBid(r.Context(), auctionID, userID, &bidReq)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, response)
}

// GetAuction returns one auction with its bids
func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	view, err := h.bidding.GetAuction(r.Context(), id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// ListAuctions returns live auctions, or finished ones with ?live=false
func (h *Handler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	live := true
	if v := r.URL.Query().Get("live"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "live must be true or false")
			return
		}
		live = parsed
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	auctions, err := h.bidding.ListAuctions(r.Context(), live, limit)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	if auctions == nil {
		auctions = []*models.AuctionDetail{}
	}
	respondJSON(w, http.StatusOK, auctions)
}

// CreateItem registers an item for auction
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "User ID is required")
		return
	}

	var req models.ItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	item, err := h.items.CreateItem(r.Context(), userID, &req)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, item)
}

// GetItem returns an item
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	item, err := h.items.GetItem(r.Context(), id)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// UpdateItem edits an item that is still waiting for its auction
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "User ID is required")
		return
	}

	var req models.ItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	item, err := h.items.UpdateItem(r.Context(), userID, id, &req)
	if err != nil {
		h.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

// DeleteItem withdraws an item
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "User ID is required")
		return
	}

	if err := h.items.DeleteItem(r.Context(), userID, id); err != nil {
		h.respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "A valid id is required")
		return uuid.Nil, false
	}
	return id, true
}

// respondErr maps a service error to a status code
func (h *Handler) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotItemOwner):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, apperr.ErrAuctionLive), errors.Is(err, apperr.ErrItemStarted), errors.Is(err, apperr.ErrAuctionExists):
		respondError(w, http.StatusConflict, err.Error())
	case apperr.IsValidation(err):
		respondError(w, http.StatusBadRequest, err.Error())
	case apperr.IsNotFound(err):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("Request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		respondError(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
	}
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs all HTTP requests
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		h.logger.Info("HTTP request",
			slog.String("method", r.Method),
			slog.String("path", r.RequestURI),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)))
	})
}

// corsMiddleware adds CORS headers (for development)
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+UserHeader)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
