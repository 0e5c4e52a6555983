package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"quizcha-live-service/internal/app"
	"quizcha-live-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuizCache caches whole quiz documents in Redis in front of a slower
// QuizStore. Documents are stored as JSON under quiz:{id}:doc. Mutations go
// straight through and drop the cached copy.
type QuizCache struct {
	app.QuizStore
	client *redis.Client
	ttl    time.Duration
	sf     singleflight.Group
}

func NewQuizCache(client *redis.Client, inner app.QuizStore, ttl time.Duration) *QuizCache {
	return &QuizCache{
		QuizStore: inner,
		client:    client,
		ttl:       ttl,
	}
}

func (c *QuizCache) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	key := c.key(quizID)
	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var quiz domain.Quiz
		if err := json.Unmarshal(raw, &quiz); err == nil {
			return quiz, nil
		}
	}

	result, err, _ := c.sf.Do(quizID, func() (interface{}, error) {
		// Re-check in case another goroutine filled the cache.
		if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
			var quiz domain.Quiz
			if err := json.Unmarshal(raw, &quiz); err == nil {
				return quiz, nil
			}
		}

		quiz, err := c.QuizStore.GetQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		if raw, err := json.Marshal(quiz); err == nil {
			_ = c.client.Set(ctx, key, raw, c.ttlWithJitter()).Err()
		}
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

func (c *QuizCache) ClaimDueQuiz(ctx context.Context, date, hhmm string, startedAt time.Time) (domain.Quiz, error) {
	quiz, err := c.QuizStore.ClaimDueQuiz(ctx, date, hhmm, startedAt)
	if err != nil {
		return domain.Quiz{}, err
	}
	c.invalidate(ctx, quiz.ID)
	return quiz, nil
}

func (c *QuizCache) SetQuestionIndex(ctx context.Context, quizID string, index int) error {
	if err := c.QuizStore.SetQuestionIndex(ctx, quizID, index); err != nil {
		return err
	}
	c.invalidate(ctx, quizID)
	return nil
}

func (c *QuizCache) ReleaseClaim(ctx context.Context, quizID string) error {
	if err := c.QuizStore.ReleaseClaim(ctx, quizID); err != nil {
		return err
	}
	c.invalidate(ctx, quizID)
	return nil
}

func (c *QuizCache) FinishQuiz(ctx context.Context, quizID string, participantIDs []string, endedAt time.Time) error {
	if err := c.QuizStore.FinishQuiz(ctx, quizID, participantIDs, endedAt); err != nil {
		return err
	}
	c.invalidate(ctx, quizID)
	return nil
}

func (c *QuizCache) invalidate(ctx context.Context, quizID string) {
	_ = c.client.Del(ctx, c.key(quizID)).Err()
}

func (c *QuizCache) key(quizID string) string {
	return "quiz:" + quizID + ":doc"
}

func (c *QuizCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(rand.Int63n(jitterMax+1))
}
