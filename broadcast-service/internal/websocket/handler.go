package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins for development (use proper CORS in production)
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type welcome struct {
	Type      string `json:"type"`
	AuctionID string `json:"auction_id"`
	ClientID  string `json:"client_id"`
}

// Handler handles WebSocket connections
type Handler struct {
	hub    *Hub
	logger *slog.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{hub: hub, logger: logger}
}

// SetupRoutes configures WebSocket routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	// WebSocket endpoint: /ws/auctions/{id}
	router.HandleFunc("/ws/auctions/{id}", h.HandleWebSocket)

	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/stats/auctions/{id}", h.GetStats).Methods("GET")

	return router
}

// HandleWebSocket upgrades the connection and subscribes it to one auction's events
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	auctionID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "A valid auction id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.logger.Debug("Failed to upgrade connection", slog.Any("error", err))
		return
	}

	sub := h.hub.Subscribe(auctionID.String())
	client := &Client{sub: sub, conn: conn, hub: h.hub, logger: h.logger}

	// Written before the pumps start so it is the first frame and never races writePump
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(welcome{Type: "connected", AuctionID: sub.AuctionID, ClientID: sub.ID}); err != nil {
		h.hub.Unsubscribe(sub)
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// HealthCheck returns service health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "broadcast-service",
	})
}

// GetStats returns the number of viewers of an auction
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]
	writeJSON(w, http.StatusOK, map[string]any{
		"auction_id":  auctionID,
		"subscribers": h.hub.SubscriberCount(auctionID),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
