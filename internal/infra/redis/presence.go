package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence marks the live quiz session in Redis so dashboards and other
// processes can see it. Best-effort: the session ignores failures. The key
// carries a TTL so a crashed coordinator cannot leave a stale marker forever.
type Presence struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPresence(client *redis.Client, ttl time.Duration) *Presence {
	return &Presence{client: client, ttl: ttl}
}

func (p *Presence) MarkLive(ctx context.Context, quizID string) error {
	return p.client.Set(ctx, p.key(quizID), "1", p.ttl).Err()
}

func (p *Presence) ClearLive(ctx context.Context, quizID string) error {
	return p.client.Del(ctx, p.key(quizID)).Err()
}

func (p *Presence) key(quizID string) string {
	return "quiz:live:" + quizID
}
