// Package cache marks chat event deliveries in Redis so redelivered events are
// dropped before fan-out.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Open connects to the Redis instance at rawURL and pings it.
func Open(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

type setNXer interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// DeliveryGuard remembers event ids for ttl.
type DeliveryGuard struct {
	client setNXer
	prefix string
	ttl    time.Duration
}

func NewDeliveryGuard(client setNXer, prefix string, ttl time.Duration) *DeliveryGuard {
	return &DeliveryGuard{client: client, prefix: prefix, ttl: ttl}
}

func (g *DeliveryGuard) formatKey(eventID string) string {
	return fmt.Sprintf("%s:%s", g.prefix, eventID)
}

// FirstDelivery reports whether eventID is seen for the first time within the
// guard's ttl. An empty id is always treated as new.
func (g *DeliveryGuard) FirstDelivery(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return true, nil
	}
	ok, err := g.client.SetNX(ctx, g.formatKey(eventID), 1, g.ttl).Result()
	if err != nil {
		return true, fmt.Errorf("mark delivery %s: %w", eventID, err)
	}
	return ok, nil
}
