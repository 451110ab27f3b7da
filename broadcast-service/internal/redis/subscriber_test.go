package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aaronwang/bidlord/shared/broadcast"
	"github.com/aaronwang/bidlord/shared/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/redis/go-redis/v9"
)

type frame struct {
	auctionID string
	payload   []byte
}

type chanSink chan frame

func (c chanSink) Broadcast(auctionID string, payload []byte) {
	c <- frame{auctionID: auctionID, payload: payload}
}

func TestListenForwardsAuctionEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := NewSubscriber(client, nil)
	assert.NoError(t, sub.SubscribeToPattern(ctx, broadcast.Pattern))
	defer sub.Close()

	sink := make(chanSink, 4)
	errc := make(chan error, 1)
	go func() { errc <- sub.Listen(ctx, sink) }()

	// Malformed payloads are skipped
	assert.NoError(t, client.Publish(ctx, broadcast.Channel("a1"), "not json").Err())
	assert.NoError(t, broadcast.NewRedisPublisher(client).Publish(ctx, "a1", models.EventAuctionClosed, models.AuctionClosed{FinalPrice: "10.00"}))

	select {
	case got := <-sink:
		check.Equal(t, "a1", got.auctionID)
		var env struct {
			Type string `json:"type"`
		}
		assert.NoError(t, json.Unmarshal(got.payload, &env))
		check.Equal(t, models.EventAuctionClosed, env.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("event not forwarded")
	}

	cancel()
	select {
	case err := <-errc:
		check.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
	check.Equal(t, 0, len(sink))
}

func TestListenRequiresSubscription(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	err := NewSubscriber(client, nil).Listen(context.Background(), make(chanSink))
	check.Error(t, err)
}

func TestSubscribeFailsWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	check.Error(t, NewSubscriber(client, nil).SubscribeToPattern(ctx, broadcast.Pattern))
}
