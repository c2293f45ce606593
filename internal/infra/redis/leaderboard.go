package redis

import (
	"context"
	"time"

	"quizroom-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Leaderboard keeps per-room daily and all-time score counters in Redis
// sorted sets. Daily scores live under a date-suffixed key, so the external
// daily reset job amounts to letting old keys expire.
type Leaderboard struct {
	client   *redis.Client
	dailyTTL time.Duration
}

func NewLeaderboard(client *redis.Client, dailyTTL time.Duration) *Leaderboard {
	return &Leaderboard{client: client, dailyTTL: dailyTTL}
}

func (l *Leaderboard) IncrScore(ctx context.Context, roomID, userID, date string, points int) error {
	dailyKey := l.dailyKey(roomID, date)
	globalKey := l.globalKey(date)

	pipe := l.client.Pipeline()
	pipe.ZIncrBy(ctx, dailyKey, float64(points), userID)
	pipe.ZIncrBy(ctx, l.allTimeKey(roomID), float64(points), userID)
	pipe.ZIncrBy(ctx, globalKey, float64(points), userID)
	if l.dailyTTL > 0 {
		pipe.Expire(ctx, dailyKey, l.dailyTTL)
		pipe.Expire(ctx, globalKey, l.dailyTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (l *Leaderboard) TopDaily(ctx context.Context, roomID, date string, limit int) ([]domain.LeaderboardRow, error) {
	return l.top(ctx, l.dailyKey(roomID, date), limit)
}

func (l *Leaderboard) TopAllTime(ctx context.Context, roomID string, limit int) ([]domain.LeaderboardRow, error) {
	return l.top(ctx, l.allTimeKey(roomID), limit)
}

func (l *Leaderboard) TopGlobalDaily(ctx context.Context, date string, limit int) ([]domain.LeaderboardRow, error) {
	return l.top(ctx, l.globalKey(date), limit)
}

func (l *Leaderboard) top(ctx context.Context, key string, limit int) ([]domain.LeaderboardRow, error) {
	if limit <= 0 {
		limit = 20
	}
	members, err := l.client.ZRevRangeWithScores(ctx, key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}
	rows := make([]domain.LeaderboardRow, 0, len(members))
	for _, member := range members {
		userID, _ := member.Member.(string)
		rows = append(rows, domain.LeaderboardRow{UserID: userID, Score: int(member.Score)})
	}
	return rows, nil
}

func (l *Leaderboard) dailyKey(roomID, date string) string {
	return "lb:room:" + roomID + ":" + date
}

func (l *Leaderboard) allTimeKey(roomID string) string {
	return "lb:room:" + roomID + ":all"
}

func (l *Leaderboard) globalKey(date string) string {
	return "lb:global:" + date
}
