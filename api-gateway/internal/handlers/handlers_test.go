package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aaronwang/bidlord/api-gateway/internal/service"
	"github.com/aaronwang/bidlord/shared/ledger"
	"github.com/aaronwang/bidlord/shared/models"
	"github.com/google/uuid"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

type fakeQueue struct {
	mu   sync.Mutex
	jobs []*models.BidJob
	err  error
}

func (q *fakeQueue) EnqueueBid(_ context.Context, job *models.BidJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type fakeSchedule struct {
	added   map[uuid.UUID]time.Time
	removed []string
}

func (s *fakeSchedule) Add(_ context.Context, id uuid.UUID, start time.Time) error {
	s.added[id] = start
	return nil
}

func (s *fakeSchedule) Remove(_ context.Context, id string) error {
	s.removed = append(s.removed, id)
	return nil
}

type gateway struct {
	store    *ledger.MemoryStore
	queue    *fakeQueue
	schedule *fakeSchedule
	server   *httptest.Server
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	g := &gateway{
		store:    ledger.NewMemoryStore(),
		queue:    &fakeQueue{},
		schedule: &fakeSchedule{added: map[uuid.UUID]time.Time{}},
	}
	h := NewHandler(
		service.NewBiddingService(g.queue, g.store, nil),
		service.NewItemService(g.store, g.schedule, nil),
		nil,
	)
	g.server = httptest.NewServer(h.SetupRoutes())
	t.Cleanup(g.server.Close)
	return g
}

func (g *gateway) do(t *testing.T, method, path, user string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rdr = bytes.NewBufferString(b)
		default:
			data, err := json.Marshal(b)
			assert.NoError(t, err)
			rdr = bytes.NewReader(data)
		}
	}
	req, err := http.NewRequest(method, g.server.URL+path, rdr)
	assert.NoError(t, err)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	resp, err := http.DefaultClient.Do(req)
	assert.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	assert.NoError(t, err)
	return resp, data
}

func (g *gateway) seedAuction(t *testing.T) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	price := decimal.RequireFromString("100.00")
	item := &models.AuctionItem{
		ID: uuid.New(), CreatorID: "seller", Name: "Lamp",
		StartAt: now.Add(-time.Minute), EndAt: now.Add(time.Hour),
		InitialPrice: price, ActivePrice: price, Currency: models.CurrencyDollars,
	}
	assert.NoError(t, g.store.CreateItem(ctx, item))
	id := uuid.New()
	assert.NoError(t, g.store.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		_, err := tx.CreateAuction(ctx, &models.Auction{ID: id, ItemID: item.ID, CurrentPrice: price, Ongoing: true})
		return err
	}))
	return id
}

func TestHealthCheck(t *testing.T) {
	g := newGateway(t)
	resp, body := g.do(t, "GET", "/health", "", nil)
	check.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]string
	assert.NoError(t, json.Unmarshal(body, &got))
	check.Equal(t, "healthy", got["status"])
}

func TestPlaceBidQueues(t *testing.T) {
	g := newGateway(t)
	auctionID := uuid.New()

	resp, body := g.do(t, "POST", "/api/v1/auctions/"+auctionID.String()+"/bids", "u1", map[string]any{"amount": 150})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	var got models.BidQueuedResponse
	assert.NoError(t, json.Unmarshal(body, &got))
	check.Equal(t, "queued", got.Status)
	check.Equal(t, "Your bid has been received and is being processed", got.Message)
	check.NotEqual(t, uuid.Nil, got.BidID)

	assert.Equal(t, 1, len(g.queue.jobs))
	job := g.queue.jobs[0]
	check.Equal(t, got.BidID, job.BidID)
	check.Equal(t, auctionID, job.AuctionID)
	check.Equal(t, "u1", job.UserID)
	check.Equal(t, "150.00", job.Price().StringFixed(2))
}

func TestPlaceBidValidation(t *testing.T) {
	g := newGateway(t)
	path := "/api/v1/auctions/" + uuid.New().String() + "/bids"

	cases := []struct {
		name   string
		path   string
		user   string
		body   any
		status int
	}{
		{"missing user", path, "", map[string]any{"amount": 10}, http.StatusUnauthorized},
		{"missing amount", path, "u1", map[string]any{}, http.StatusBadRequest},
		{"zero amount", path, "u1", map[string]any{"amount": 0}, http.StatusBadRequest},
		{"negative amount", path, "u1", map[string]any{"amount": -5}, http.StatusBadRequest},
		{"not a number", path, "u1", `{"amount":"ten"}`, http.StatusBadRequest},
		{"bad json", path, "u1", `{`, http.StatusBadRequest},
		{"bad auction id", "/api/v1/auctions/nope/bids", "u1", map[string]any{"amount": 10}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, _ := g.do(t, "POST", tc.path, tc.user, tc.body)
			check.Equal(t, tc.status, resp.StatusCode)
		})
	}
	check.Equal(t, 0, len(g.queue.jobs))
}

func TestPlaceBidQueueDown(t *testing.T) {
	g := newGateway(t)
	g.queue.err = errors.New("nats: no responders")

	resp, _ := g.do(t, "POST", "/api/v1/auctions/"+uuid.New().String()+"/bids", "u1", map[string]any{"amount": 10})
	check.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGetAuction(t *testing.T) {
	g := newGateway(t)
	id := g.seedAuction(t)

	resp, body := g.do(t, "GET", "/api/v1/auctions/"+id.String(), "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var view struct {
		ID           uuid.UUID `json:"id"`
		CurrentPrice string    `json:"current_price"`
		Ongoing      bool      `json:"ongoing"`
		BidCount     int       `json:"bid_count"`
		Item         struct {
			Name string `json:"name"`
		} `json:"item_for_sale"`
	}
	assert.NoError(t, json.Unmarshal(body, &view))
	check.Equal(t, id, view.ID)
	check.Equal(t, "100", view.CurrentPrice)
	check.True(t, view.Ongoing)
	check.Equal(t, "Lamp", view.Item.Name)

	resp, _ = g.do(t, "GET", "/api/v1/auctions/"+uuid.New().String(), "", nil)
	check.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListAuctions(t *testing.T) {
	g := newGateway(t)
	g.seedAuction(t)

	resp, body := g.do(t, "GET", "/api/v1/auctions", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var live []map[string]any
	assert.NoError(t, json.Unmarshal(body, &live))
	check.Equal(t, 1, len(live))

	resp, body = g.do(t, "GET", "/api/v1/auctions?live=false", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	check.Equal(t, "[]\n", string(body))

	resp, _ = g.do(t, "GET", "/api/v1/auctions?live=maybe", "", nil)
	check.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateAndDeleteItem(t *testing.T) {
	g := newGateway(t)
	start := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)

	resp, body := g.do(t, "POST", "/api/v1/items", "seller", map[string]any{
		"item_name":          "Clock",
		"details":            "Brass",
		"auction_start_date": start,
		"auction_end_date":   start.Add(time.Hour),
		"initial_price":      25.5,
		"price_currency":     "Pounds",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var item models.AuctionItem
	assert.NoError(t, json.Unmarshal(body, &item))
	check.Equal(t, "seller", item.CreatorID)
	check.Equal(t, "25.50", item.InitialPrice.StringFixed(2))
	check.Equal(t, models.CurrencyPounds, item.Currency)
	check.True(t, start.Equal(g.schedule.added[item.ID]))

	resp, _ = g.do(t, "DELETE", "/api/v1/items/"+item.ID.String(), "someone-else", nil)
	check.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = g.do(t, "DELETE", "/api/v1/items/"+item.ID.String(), "seller", nil)
	check.Equal(t, http.StatusNoContent, resp.StatusCode)
	check.Equal(t, []string{item.ID.String()}, g.schedule.removed)

	stored, err := g.store.GetItem(context.Background(), item.ID)
	assert.NoError(t, err)
	check.True(t, stored.Deleted)
}

func TestCreateItemValidation(t *testing.T) {
	g := newGateway(t)
	start := time.Now().Add(time.Hour).UTC()

	cases := []struct {
		name string
		body map[string]any
	}{
		{"too short", map[string]any{"item_name": "x", "auction_start_date": start, "auction_end_date": start.Add(29 * time.Minute), "initial_price": 10}},
		{"free", map[string]any{"item_name": "x", "auction_start_date": start, "auction_end_date": start.Add(time.Hour), "initial_price": 0}},
		{"bad currency", map[string]any{"item_name": "x", "auction_start_date": start, "auction_end_date": start.Add(time.Hour), "initial_price": 10, "price_currency": "Yen"}},
		{"no name", map[string]any{"auction_start_date": start, "auction_end_date": start.Add(time.Hour), "initial_price": 10}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, _ := g.do(t, "POST", "/api/v1/items", "seller", tc.body)
			check.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	check.Equal(t, 0, len(g.schedule.added))
}

func TestDeleteRunningItemRefused(t *testing.T) {
	g := newGateway(t)
	id := g.seedAuction(t)
	d, err := g.store.GetAuction(context.Background(), id)
	assert.NoError(t, err)

	resp, _ := g.do(t, "DELETE", "/api/v1/items/"+d.ItemID.String(), "seller", nil)
	check.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestUpdateItem(t *testing.T) {
	g := newGateway(t)
	start := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)
	body := map[string]any{
		"item_name":          "Clock",
		"auction_start_date": start,
		"auction_end_date":   start.Add(time.Hour),
		"initial_price":      25,
	}
	resp, data := g.do(t, "POST", "/api/v1/items", "seller", body)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var item models.AuctionItem
	assert.NoError(t, json.Unmarshal(data, &item))
	path := "/api/v1/items/" + item.ID.String()

	later := start.Add(3 * time.Hour)
	edit := map[string]any{
		"item_name":          "Mantel clock",
		"auction_start_date": later,
		"auction_end_date":   later.Add(time.Hour),
		"initial_price":      30,
	}
	resp, _ = g.do(t, "PUT", path, "someone-else", edit)
	check.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = g.do(t, "PUT", path, "", edit)
	check.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, data = g.do(t, "PUT", path, "seller", edit)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var updated models.AuctionItem
	assert.NoError(t, json.Unmarshal(data, &updated))
	check.Equal(t, "Mantel clock", updated.Name)
	check.Equal(t, "30.00", updated.InitialPrice.StringFixed(2))
	check.True(t, later.Equal(g.schedule.added[item.ID]))

	edit["auction_end_date"] = later.Add(10 * time.Minute)
	resp, _ = g.do(t, "PUT", path, "seller", edit)
	check.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateStartedItemRefused(t *testing.T) {
	g := newGateway(t)
	id := g.seedAuction(t)
	d, err := g.store.GetAuction(context.Background(), id)
	assert.NoError(t, err)

	start := time.Now().Add(time.Hour).UTC()
	resp, _ := g.do(t, "PUT", "/api/v1/items/"+d.ItemID.String(), "seller", map[string]any{
		"item_name":          "Lamp",
		"auction_start_date": start,
		"auction_end_date":   start.Add(time.Hour),
		"initial_price":      10,
	})
	check.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestGetDeletedItemNotFound(t *testing.T) {
	g := newGateway(t)
	start := time.Now().Add(2 * time.Hour).UTC()
	resp, data := g.do(t, "POST", "/api/v1/items", "seller", map[string]any{
		"item_name":          "Clock",
		"auction_start_date": start,
		"auction_end_date":   start.Add(time.Hour),
		"initial_price":      25,
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var item models.AuctionItem
	assert.NoError(t, json.Unmarshal(data, &item))
	path := "/api/v1/items/" + item.ID.String()

	resp, _ = g.do(t, "GET", path, "", nil)
	check.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = g.do(t, "DELETE", path, "seller", nil)
	check.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = g.do(t, "GET", path, "", nil)
	check.Equal(t, http.StatusNotFound, resp.StatusCode)
}
