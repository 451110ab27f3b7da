package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aaronwang/bidlord/shared/apperr"
	"github.com/aaronwang/bidlord/shared/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Store. Transactions run against a copy of the state which
// replaces the live state only on commit, so a failed transaction leaves nothing behind.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
	fault error
	now   func() time.Time
}

type memState struct {
	items       map[uuid.UUID]models.AuctionItem
	auctions    map[uuid.UUID]models.Auction
	itemAuction map[uuid.UUID]uuid.UUID
	bids        []models.Bid
	bidIndex    map[uuid.UUID]int
	users       map[string]string
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			items:       make(map[uuid.UUID]models.AuctionItem),
			auctions:    make(map[uuid.UUID]models.Auction),
			itemAuction: make(map[uuid.UUID]uuid.UUID),
			bidIndex:    make(map[uuid.UUID]int),
			users:       make(map[string]string),
		},
		now: time.Now,
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		items:       make(map[uuid.UUID]models.AuctionItem, len(s.items)),
		auctions:    make(map[uuid.UUID]models.Auction, len(s.auctions)),
		itemAuction: make(map[uuid.UUID]uuid.UUID, len(s.itemAuction)),
		bids:        make([]models.Bid, len(s.bids)),
		bidIndex:    make(map[uuid.UUID]int, len(s.bidIndex)),
		users:       s.users,
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.auctions {
		c.auctions[k] = v
	}
	for k, v := range s.itemAuction {
		c.itemAuction[k] = v
	}
	copy(c.bids, s.bids)
	for k, v := range s.bidIndex {
		c.bidIndex[k] = v
	}
	return c
}

// AddUser registers a bidder's username
func (m *MemoryStore) AddUser(userID, username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.users[userID] = username
}

// FailNextCommit makes the next transaction fail with err after fn has run
func (m *MemoryStore) FailNextCommit(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = err
}

// InTx implements Store
func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return apperr.Infrastructure("begin transaction", err)
	}

	staged := m.state.clone()
	if err := fn(ctx, &memTx{s: staged, now: m.now}); err != nil {
		return err
	}
	if m.fault != nil {
		err := m.fault
		m.fault = nil
		return apperr.Infrastructure("commit transaction", err)
	}
	m.state = staged
	return nil
}

// GetAuction implements Store
func (m *MemoryStore) GetAuction(_ context.Context, id uuid.UUID) (*models.AuctionDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.detail(id)
}

// ListAuctions implements Store
func (m *MemoryStore) ListAuctions(_ context.Context, live bool, limit int) ([]*models.AuctionDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.AuctionDetail
	for id, a := range m.state.auctions {
		if a.Ongoing != live {
			continue
		}
		d, err := m.state.detail(id)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListBids implements Store. Bids are returned in commit order.
func (m *MemoryStore) ListBids(_ context.Context, auctionID uuid.UUID) ([]*models.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Bid
	for i := range m.state.bids {
		if m.state.bids[i].AuctionID == auctionID && !m.state.bids[i].Deleted {
			b := m.state.bids[i]
			out = append(out, &b)
		}
	}
	return out, nil
}

// DueForClosure implements Store
func (m *MemoryStore) DueForClosure(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []uuid.UUID
	for id, a := range m.state.auctions {
		item := m.state.items[a.ItemID]
		if a.Ongoing && !item.EndAt.After(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Username implements Store. Unknown users resolve to their id.
func (m *MemoryStore) Username(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name, ok := m.state.users[userID]; ok {
		return name, nil
	}
	return userID, nil
}

// CreateItem implements Store
func (m *MemoryStore) CreateItem(_ context.Context, item *models.AuctionItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	item.CreatedAt, item.UpdatedAt = now, now
	m.state.items[item.ID] = *item
	return nil
}

// GetItem implements Store
func (m *MemoryStore) GetItem(_ context.Context, id uuid.UUID) (*models.AuctionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.state.items[id]
	if !ok {
		return nil, apperr.ErrItemNotFound
	}
	return &item, nil
}

// SchedulableItems implements Store
func (m *MemoryStore) SchedulableItems(_ context.Context, now time.Time) ([]*models.AuctionItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.AuctionItem
	for id, item := range m.state.items {
		if _, has := m.state.itemAuction[id]; has || !item.Available() || item.Ended(now) {
			continue
		}
		it := item
		out = append(out, &it)
	}
	return out, nil
}

// Close implements Store
func (m *MemoryStore) Close() error { return nil }

func (s *memState) detail(id uuid.UUID) (*models.AuctionDetail, error) {
	a, ok := s.auctions[id]
	if !ok {
		return nil, apperr.ErrAuctionNotFound
	}
	item, ok := s.items[a.ItemID]
	if !ok {
		return nil, apperr.ErrItemNotFound
	}
	return &models.AuctionDetail{Auction: a, Item: item}, nil
}

type memTx struct {
	s   *memState
	now func() time.Time
}

func (t *memTx) LoadAuction(_ context.Context, id uuid.UUID) (*models.AuctionDetail, error) {
	return t.s.detail(id)
}

func (t *memTx) LoadItem(_ context.Context, id uuid.UUID) (*models.AuctionItem, error) {
	item, ok := t.s.items[id]
	if !ok {
		return nil, apperr.ErrItemNotFound
	}
	return &item, nil
}

func (t *memTx) AuctionExistsForItem(_ context.Context, itemID uuid.UUID) (bool, error) {
	_, ok := t.s.itemAuction[itemID]
	return ok, nil
}

func (t *memTx) UpdateItem(_ context.Context, item *models.AuctionItem) error {
	cur, ok := t.s.items[item.ID]
	if !ok {
		return apperr.ErrItemNotFound
	}
	cur.Name, cur.Description = item.Name, item.Description
	cur.StartAt, cur.EndAt = item.StartAt, item.EndAt
	cur.InitialPrice, cur.ActivePrice = item.InitialPrice, item.ActivePrice
	cur.Currency = item.Currency
	cur.UpdatedAt = t.now()
	t.s.items[item.ID] = cur
	item.UpdatedAt = cur.UpdatedAt
	return nil
}

func (t *memTx) SoftDeleteItem(_ context.Context, id uuid.UUID) error {
	item, ok := t.s.items[id]
	if !ok {
		return apperr.ErrItemNotFound
	}
	item.Deleted = true
	item.UpdatedAt = t.now()
	t.s.items[id] = item
	return nil
}

func (t *memTx) CreateAuction(_ context.Context, a *models.Auction) (bool, error) {
	if _, ok := t.s.items[a.ItemID]; !ok {
		return false, apperr.ErrItemNotFound
	}
	if _, ok := t.s.itemAuction[a.ItemID]; ok {
		return false, nil
	}
	now := t.now()
	a.CreatedAt, a.UpdatedAt = now, now
	t.s.auctions[a.ID] = *a
	t.s.itemAuction[a.ItemID] = a.ID
	return true, nil
}

func (t *memTx) UpdatePrice(_ context.Context, auctionID, itemID uuid.UUID, price decimal.Decimal) error {
	a, ok := t.s.auctions[auctionID]
	if !ok {
		return apperr.ErrAuctionNotFound
	}
	item, ok := t.s.items[itemID]
	if !ok {
		return apperr.ErrItemNotFound
	}
	now := t.now()
	a.CurrentPrice, a.UpdatedAt = price, now
	item.ActivePrice, item.UpdatedAt = price, now
	t.s.auctions[auctionID] = a
	t.s.items[itemID] = item
	return nil
}

func (t *memTx) AppendBid(_ context.Context, b *models.Bid) error {
	if _, ok := t.s.auctions[b.AuctionID]; !ok {
		return apperr.ErrAuctionNotFound
	}
	if _, dup := t.s.bidIndex[b.ID]; dup {
		return apperr.ErrDuplicateBid
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = t.now()
	}
	t.s.bidIndex[b.ID] = len(t.s.bids)
	t.s.bids = append(t.s.bids, *b)
	return nil
}

func (t *memTx) BidExists(_ context.Context, bidID uuid.UUID) (bool, error) {
	_, ok := t.s.bidIndex[bidID]
	return ok, nil
}

func (t *memTx) HighestBid(_ context.Context, auctionID uuid.UUID) (*models.Bid, error) {
	var best *models.Bid
	for i := range t.s.bids {
		b := t.s.bids[i]
		if b.AuctionID != auctionID || b.Deleted {
			continue
		}
		if best == nil || b.Amount.GreaterThan(best.Amount) {
			best = &b
		}
	}
	return best, nil
}

func (t *memTx) CloseAuction(_ context.Context, auctionID uuid.UUID, winnerID *string) error {
	a, ok := t.s.auctions[auctionID]
	if !ok {
		return apperr.ErrAuctionNotFound
	}
	if !a.Ongoing {
		return apperr.ErrAuctionNotActive
	}
	a.Ongoing = false
	a.WinnerID = winnerID
	a.UpdatedAt = t.now()
	t.s.auctions[auctionID] = a
	return nil
}
