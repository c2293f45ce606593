package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// QuestionCache caches each room's ordered question list in Redis and falls
// back to the underlying store on a miss. Lists are stored as JSON under
// room:{roomID}:questions; question writes invalidate the cached list so a
// quiz started afterwards sees a fresh frozen copy.
type QuestionCache struct {
	client *redis.Client
	source app.QuestionStore
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuestionCache(client *redis.Client, source app.QuestionStore, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		client: client,
		source: source,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuestionCache) FindQuestionsByRoom(ctx context.Context, roomID string) ([]domain.Question, error) {
	key := c.key(roomID)

	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var questions []domain.Question
		if err := json.Unmarshal(raw, &questions); err == nil {
			return questions, nil
		}
		// Corrupt entry; drop it and refill.
		_ = c.client.Del(ctx, key).Err()
	}

	result, err, _ := c.sf.Do(roomID, func() (interface{}, error) {
		// Re-check in case a concurrent caller filled the cache.
		raw, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			var questions []domain.Question
			if err := json.Unmarshal(raw, &questions); err == nil {
				return questions, nil
			}
		}

		questions, err := c.source.FindQuestionsByRoom(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if encoded, err := json.Marshal(questions); err == nil {
			_ = c.client.Set(ctx, key, encoded, c.ttlWithJitter()).Err()
		}
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (c *QuestionCache) AddQuestion(ctx context.Context, q domain.Question) (domain.Question, error) {
	added, err := c.source.AddQuestion(ctx, q)
	if err != nil {
		return domain.Question{}, err
	}
	_ = c.client.Del(ctx, c.key(q.RoomID)).Err()
	return added, nil
}

func (c *QuestionCache) DeleteQuestion(ctx context.Context, roomID, questionID string) error {
	if err := c.source.DeleteQuestion(ctx, roomID, questionID); err != nil {
		return err
	}
	return c.client.Del(ctx, c.key(roomID)).Err()
}

func (c *QuestionCache) key(roomID string) string {
	return "room:" + roomID + ":questions"
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
