// Package schedule keeps the Redis sorted set of items waiting for their auction to open
package schedule

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aaronwang/bidlord/shared/apperr"
	"github.com/aaronwang/bidlord/shared/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the sorted set holding pending item ids scored by start time
const DefaultKey = "auction_schedule"

// Index is the schedule of pending auction starts
type Index struct {
	client redis.UniversalClient
	key    string
}

// NewIndex creates an Index stored under key (DefaultKey when empty)
func NewIndex(client redis.UniversalClient, key string) *Index {
	if key == "" {
		key = DefaultKey
	}
	return &Index{client: client, key: key}
}

func score(t time.Time) float64 {
	return float64(t.Unix())
}

// Add schedules itemID to open at startAt. Re-adding moves the entry.
func (x *Index) Add(ctx context.Context, itemID uuid.UUID, startAt time.Time) error {
	err := x.client.ZAdd(ctx, x.key, redis.Z{Score: score(startAt), Member: itemID.String()}).Err()
	if err != nil {
		return apperr.Infrastructure("schedule item", err)
	}
	return nil
}

// Remove drops itemID from the schedule. Missing entries are not an error.
func (x *Index) Remove(ctx context.Context, itemID string) error {
	if err := x.client.ZRem(ctx, x.key, itemID).Err(); err != nil {
		return apperr.Infrastructure("unschedule item", err)
	}
	return nil
}

// Due returns the ids of every entry starting at or before until, earliest first
func (x *Index) Due(ctx context.Context, until time.Time) ([]string, error) {
	ids, err := x.client.ZRangeByScore(ctx, x.key, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(until.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, apperr.Infrastructure("read schedule", err)
	}
	return ids, nil
}

// Len reports the number of scheduled entries
func (x *Index) Len(ctx context.Context) (int64, error) {
	n, err := x.client.ZCard(ctx, x.key).Result()
	if err != nil {
		return 0, apperr.Infrastructure("count schedule", err)
	}
	return n, nil
}

// Rebuild replaces the whole schedule with items in one MULTI/EXEC
func (x *Index) Rebuild(ctx context.Context, items []*models.AuctionItem) error {
	_, err := x.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, x.key)
		if len(items) == 0 {
			return nil
		}
		members := make([]redis.Z, 0, len(items))
		for _, it := range items {
			members = append(members, redis.Z{Score: score(it.StartAt), Member: it.ID.String()})
		}
		pipe.ZAdd(ctx, x.key, members...)
		return nil
	})
	if err != nil {
		return apperr.Infrastructure("rebuild schedule", fmt.Errorf("failed to rebuild %d entries: %w", len(items), err))
	}
	return nil
}
