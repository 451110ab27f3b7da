package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func newServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub, _ := runHub(t, 0)
	srv := httptest.NewServer(NewHandler(hub, nil).SetupRoutes())
	t.Cleanup(srv.Close)
	return hub, srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocketReceivesAuctionEvents(t *testing.T) {
	hub, srv := newServer(t)
	auctionID := uuid.New().String()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/auctions/"+auctionID), nil)
	assert.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var hello welcome
	assert.NoError(t, conn.ReadJSON(&hello))
	check.Equal(t, "connected", hello.Type)
	check.Equal(t, auctionID, hello.AuctionID)
	check.NotEqual(t, "", hello.ClientID)
	check.Equal(t, 1, hub.SubscriberCount(auctionID))

	payload := `{"type":"auction_update","auction_id":"` + auctionID + `","data":{"new_price":"150.00"}}`
	hub.Broadcast(auctionID, []byte(payload))
	hub.Broadcast(uuid.New().String(), []byte(`{"type":"other"}`))

	_, msg, err := conn.ReadMessage()
	assert.NoError(t, err)
	check.Equal(t, payload, string(msg))

	conn.Close()
	waitFor(t, func() bool { return hub.SubscriberCount(auctionID) == 0 })
}

func TestWebSocketRejectsBadAuctionID(t *testing.T) {
	_, srv := newServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/auctions/not-a-uuid"), nil)
	check.Error(t, err)
	assert.NotNil(t, resp)
	check.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStats(t *testing.T) {
	hub, srv := newServer(t)
	hub.Subscribe("a1")
	hub.Subscribe("a1")

	resp, err := http.Get(srv.URL + "/stats/auctions/a1")
	assert.NoError(t, err)
	defer resp.Body.Close()
	check.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		AuctionID   string `json:"auction_id"`
		Subscribers int    `json:"subscribers"`
	}
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	check.Equal(t, "a1", got.AuctionID)
	check.Equal(t, 2, got.Subscribers)
}

func TestHealthCheck(t *testing.T) {
	_, srv := newServer(t)
	resp, err := http.Get(srv.URL + "/health")
	assert.NoError(t, err)
	defer resp.Body.Close()
	check.Equal(t, http.StatusOK, resp.StatusCode)
}
