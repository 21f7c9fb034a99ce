package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const dedupeTTL = 24 * time.Hour

// Dedupe remembers which client sequence numbers were already written so a
// repeated delivery of the same event maps back to the first activity id.
type Dedupe struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDedupe(client *redis.Client) *Dedupe {
	return &Dedupe{client: client, ttl: dedupeTTL}
}

func DedupeKey(quoteID, sessionID, eventType, clientSeq string) string {
	return fmt.Sprintf("activity:dedupe:%s:%s:%s:%s", quoteID, sessionID, eventType, clientSeq)
}

// Claim reserves key for id. When the key was already claimed it returns
// the id stored by the first claim and false.
func (d *Dedupe) Claim(ctx context.Context, key string, id uuid.UUID) (uuid.UUID, bool, error) {
	ok, err := d.client.SetNX(ctx, key, id.String(), d.ttl).Result()
	if err != nil {
		return uuid.Nil, false, err
	}
	if ok {
		return id, true, nil
	}

	existing, err := d.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between the two calls; treat as fresh.
		return id, true, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	existingID, err := uuid.Parse(existing)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("corrupt dedupe entry %s: %w", key, err)
	}
	return existingID, false, nil
}

// Release drops a claim whose write failed so a retry can store the event.
func (d *Dedupe) Release(ctx context.Context, key string) error {
	return d.client.Del(ctx, key).Err()
}
