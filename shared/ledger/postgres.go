package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aaronwang/bidlord/shared/apperr"
	"github.com/aaronwang/bidlord/shared/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PostgresStore is the Store backed by PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens and pings a PostgreSQL connection pool
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing handle
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// InitSchema creates the ledger tables
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(255) PRIMARY KEY,
		username VARCHAR(150) NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS auction_items (
		id UUID PRIMARY KEY,
		creator_id VARCHAR(255) NOT NULL,
		item_name VARCHAR(100) NOT NULL,
		details TEXT NOT NULL DEFAULT '',
		auction_start_date TIMESTAMPTZ NOT NULL,
		auction_end_date TIMESTAMPTZ NOT NULL,
		initial_price DECIMAL(30, 2) NOT NULL CHECK (initial_price > 0),
		active_price DECIMAL(30, 2) NOT NULL,
		price_currency VARCHAR(10) NOT NULL DEFAULT 'Dollars',
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		is_archived BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CHECK (auction_end_date >= auction_start_date + INTERVAL '30 minutes')
	);

	CREATE TABLE IF NOT EXISTS auctions (
		id UUID PRIMARY KEY,
		item_id UUID NOT NULL UNIQUE REFERENCES auction_items(id) ON DELETE CASCADE,
		current_price DECIMAL(30, 2) NOT NULL,
		ongoing BOOLEAN NOT NULL DEFAULT TRUE,
		winner_id VARCHAR(255),
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS bids (
		id UUID PRIMARY KEY,
		auction_id UUID NOT NULL REFERENCES auctions(id) ON DELETE CASCADE,
		creator_id VARCHAR(255) NOT NULL,
		amount DECIMAL(30, 2) NOT NULL,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_auctions_ongoing ON auctions(ongoing) WHERE ongoing;
	CREATE INDEX IF NOT EXISTS idx_bids_auction_amount ON bids(auction_id, amount DESC);
	CREATE INDEX IF NOT EXISTS idx_bids_creator_id ON bids(creator_id);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const auctionColumns = `
	a.id, a.item_id, a.current_price, a.ongoing, a.winner_id, a.created_at, a.updated_at,
	` + itemColumns

const itemColumns = `
	i.id, i.creator_id, i.item_name, i.details, i.auction_start_date, i.auction_end_date,
	i.initial_price, i.active_price, i.price_currency, i.is_deleted, i.is_archived,
	i.created_at, i.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner, dest *models.AuctionItem, extra ...any) error {
	fields := append(extra,
		&dest.ID, &dest.CreatorID, &dest.Name, &dest.Description, &dest.StartAt, &dest.EndAt,
		&dest.InitialPrice, &dest.ActivePrice, &dest.Currency, &dest.Deleted, &dest.Archived,
		&dest.CreatedAt, &dest.UpdatedAt,
	)
	return row.Scan(fields...)
}

func scanAuction(row rowScanner) (*models.AuctionDetail, error) {
	d := &models.AuctionDetail{}
	var winner sql.NullString
	err := scanItem(row, &d.Item,
		&d.ID, &d.ItemID, &d.CurrentPrice, &d.Ongoing, &winner, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if winner.Valid {
		w := winner.String
		d.WinnerID = &w
	}
	return d, nil
}

// classify maps driver errors onto the apperr taxonomy
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return apperr.New(apperr.KindConcurrency, op, fmt.Errorf("%w: %w", apperr.ErrConflict, err))
		case "55P03": // lock_not_available
			return apperr.New(apperr.KindConcurrency, op, err)
		}
	}
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	return apperr.Infrastructure(op, err)
}

// InTx implements Store
func (s *PostgresStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

// GetAuction implements Store
func (s *PostgresStore) GetAuction(ctx context.Context, id uuid.UUID) (*models.AuctionDetail, error) {
	query := `SELECT ` + auctionColumns + `
		FROM auctions a JOIN auction_items i ON i.id = a.item_id
		WHERE a.id = $1`

	d, err := scanAuction(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrAuctionNotFound
	}
	if err != nil {
		return nil, classify("get auction", err)
	}
	return d, nil
}

// ListAuctions implements Store
func (s *PostgresStore) ListAuctions(ctx context.Context, live bool, limit int) ([]*models.AuctionDetail, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT ` + auctionColumns + `
		FROM auctions a JOIN auction_items i ON i.id = a.item_id
		WHERE a.ongoing = $1
		ORDER BY a.created_at DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, live, limit)
	if err != nil {
		return nil, classify("list auctions", err)
	}
	defer rows.Close()

	var out []*models.AuctionDetail
	for rows.Next() {
		d, err := scanAuction(rows)
		if err != nil {
			return nil, classify("scan auction", err)
		}
		out = append(out, d)
	}
	return out, classify("list auctions", rows.Err())
}

// ListBids implements Store
func (s *PostgresStore) ListBids(ctx context.Context, auctionID uuid.UUID) ([]*models.Bid, error) {
	query := `
		SELECT id, auction_id, creator_id, amount, created_at, is_deleted
		FROM bids
		WHERE auction_id = $1 AND NOT is_deleted
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, auctionID)
	if err != nil {
		return nil, classify("list bids", err)
	}
	defer rows.Close()

	var bids []*models.Bid
	for rows.Next() {
		b := &models.Bid{}
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.CreatorID, &b.Amount, &b.CreatedAt, &b.Deleted); err != nil {
			return nil, classify("scan bid", err)
		}
		bids = append(bids, b)
	}
	return bids, classify("list bids", rows.Err())
}

// DueForClosure implements Store
func (s *PostgresStore) DueForClosure(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	query := `
		SELECT a.id
		FROM auctions a JOIN auction_items i ON i.id = a.item_id
		WHERE a.ongoing AND i.auction_end_date <= $1
		ORDER BY i.auction_end_date ASC`

	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, classify("query finished auctions", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, classify("scan auction id", err)
		}
		ids = append(ids, id)
	}
	return ids, classify("query finished auctions", rows.Err())
}

// Username implements Store. Unknown users resolve to their id.
func (s *PostgresStore) Username(ctx context.Context, userID string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT username FROM users WHERE id = $1`, userID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return userID, nil
	}
	if err != nil {
		return "", classify("lookup username", err)
	}
	return name, nil
}

// CreateItem implements Store
func (s *PostgresStore) CreateItem(ctx context.Context, item *models.AuctionItem) error {
	query := `
		INSERT INTO auction_items (id, creator_id, item_name, details, auction_start_date, auction_end_date,
			initial_price, active_price, price_currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query,
		item.ID, item.CreatorID, item.Name, item.Description, item.StartAt, item.EndAt,
		item.InitialPrice, item.ActivePrice, item.Currency,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return classify("insert auction item", err)
	}
	return nil
}

// GetItem implements Store
func (s *PostgresStore) GetItem(ctx context.Context, id uuid.UUID) (*models.AuctionItem, error) {
	query := `SELECT ` + itemColumns + ` FROM auction_items i WHERE i.id = $1`

	item := &models.AuctionItem{}
	err := scanItem(s.db.QueryRowContext(ctx, query, id), item)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrItemNotFound
	}
	if err != nil {
		return nil, classify("get auction item", err)
	}
	return item, nil
}

// SchedulableItems implements Store
func (s *PostgresStore) SchedulableItems(ctx context.Context, now time.Time) ([]*models.AuctionItem, error) {
	query := `SELECT ` + itemColumns + `
		FROM auction_items i
		LEFT JOIN auctions a ON a.item_id = i.id
		WHERE a.id IS NULL AND NOT i.is_deleted AND NOT i.is_archived AND i.auction_end_date > $1`

	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, classify("query schedulable items", err)
	}
	defer rows.Close()

	var items []*models.AuctionItem
	for rows.Next() {
		item := &models.AuctionItem{}
		if err := scanItem(rows, item); err != nil {
			return nil, classify("scan auction item", err)
		}
		items = append(items, item)
	}
	return items, classify("query schedulable items", rows.Err())
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LoadAuction(ctx context.Context, id uuid.UUID) (*models.AuctionDetail, error) {
	query := `SELECT ` + auctionColumns + `
		FROM auctions a JOIN auction_items i ON i.id = a.item_id
		WHERE a.id = $1
		FOR UPDATE OF a, i`

	d, err := scanAuction(t.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrAuctionNotFound
	}
	if err != nil {
		return nil, classify("lock auction", err)
	}
	return d, nil
}

func (t *pgTx) LoadItem(ctx context.Context, id uuid.UUID) (*models.AuctionItem, error) {
	query := `SELECT ` + itemColumns + ` FROM auction_items i WHERE i.id = $1 FOR UPDATE`

	item := &models.AuctionItem{}
	err := scanItem(t.tx.QueryRowContext(ctx, query, id), item)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrItemNotFound
	}
	if err != nil {
		return nil, classify("lock auction item", err)
	}
	return item, nil
}

func (t *pgTx) AuctionExistsForItem(ctx context.Context, itemID uuid.UUID) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM auctions WHERE item_id = $1)`, itemID).Scan(&exists)
	if err != nil {
		return false, classify("check auction exists", err)
	}
	return exists, nil
}

func (t *pgTx) UpdateItem(ctx context.Context, item *models.AuctionItem) error {
	query := `
		UPDATE auction_items
		SET item_name = $1, details = $2, auction_start_date = $3, auction_end_date = $4,
			initial_price = $5, active_price = $6, price_currency = $7, updated_at = CURRENT_TIMESTAMP
		WHERE id = $8
		RETURNING updated_at`

	err := t.tx.QueryRowContext(ctx, query,
		item.Name, item.Description, item.StartAt, item.EndAt,
		item.InitialPrice, item.ActivePrice, item.Currency, item.ID,
	).Scan(&item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.ErrItemNotFound
	}
	if err != nil {
		return classify("update auction item", err)
	}
	return nil
}

func (t *pgTx) SoftDeleteItem(ctx context.Context, id uuid.UUID) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE auction_items SET is_deleted = TRUE, updated_at = CURRENT_TIMESTAMP WHERE id = $1`, id)
	if err != nil {
		return classify("delete auction item", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return classify("delete auction item", err)
	}
	if rows == 0 {
		return apperr.ErrItemNotFound
	}
	return nil
}

func (t *pgTx) CreateAuction(ctx context.Context, a *models.Auction) (bool, error) {
	query := `
		INSERT INTO auctions (id, item_id, current_price, ongoing)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (item_id) DO NOTHING
		RETURNING created_at, updated_at`

	err := t.tx.QueryRowContext(ctx, query, a.ID, a.ItemID, a.CurrentPrice, a.Ongoing).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, classify("insert auction", err)
	}
	return true, nil
}

func (t *pgTx) UpdatePrice(ctx context.Context, auctionID, itemID uuid.UUID, price decimal.Decimal) error {
	result, err := t.tx.ExecContext(ctx,
		`UPDATE auctions SET current_price = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`,
		price, auctionID)
	if err != nil {
		return classify("update auction price", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return apperr.ErrAuctionNotFound
	}

	if _, err := t.tx.ExecContext(ctx,
		`UPDATE auction_items SET active_price = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`,
		price, itemID); err != nil {
		return classify("update item active price", err)
	}
	return nil
}

func (t *pgTx) AppendBid(ctx context.Context, b *models.Bid) error {
	query := `
		INSERT INTO bids (id, auction_id, creator_id, amount)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	err := t.tx.QueryRowContext(ctx, query, b.ID, b.AuctionID, b.CreatorID, b.Amount).Scan(&b.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" { // unique_violation
			return apperr.ErrDuplicateBid
		}
		return classify("insert bid", err)
	}
	return nil
}

func (t *pgTx) BidExists(ctx context.Context, bidID uuid.UUID) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM bids WHERE id = $1)`, bidID).Scan(&exists)
	if err != nil {
		return false, classify("check bid exists", err)
	}
	return exists, nil
}

func (t *pgTx) HighestBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error) {
	query := `
		SELECT id, auction_id, creator_id, amount, created_at, is_deleted
		FROM bids
		WHERE auction_id = $1 AND NOT is_deleted
		ORDER BY amount DESC, created_at DESC
		LIMIT 1`

	b := &models.Bid{}
	err := t.tx.QueryRowContext(ctx, query, auctionID).
		Scan(&b.ID, &b.AuctionID, &b.CreatorID, &b.Amount, &b.CreatedAt, &b.Deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("query highest bid", err)
	}
	return b, nil
}

func (t *pgTx) CloseAuction(ctx context.Context, auctionID uuid.UUID, winnerID *string) error {
	var winner sql.NullString
	if winnerID != nil {
		winner = sql.NullString{String: *winnerID, Valid: true}
	}

	result, err := t.tx.ExecContext(ctx,
		`UPDATE auctions SET ongoing = FALSE, winner_id = $1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = $2 AND ongoing`,
		winner, auctionID)
	if err != nil {
		return classify("close auction", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return classify("close auction", err)
	}
	if rows == 0 {
		return apperr.ErrAuctionNotActive
	}
	return nil
}
