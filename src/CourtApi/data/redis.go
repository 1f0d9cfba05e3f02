package data

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	noncePrefix  = "nonce:"
	streamEvents = "courtbot.events"
)

func MustRedis(url string) *redis.Client {
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	return redis.NewClient(opt)
}

func SetNonce(ctx context.Context, rdb *redis.Client, userID, nonce string) error {
	return rdb.Set(ctx, noncePrefix+userID, nonce, 5*time.Minute).Err()
}

func GetNonce(ctx context.Context, rdb *redis.Client, userID string) (string, error) {
	return rdb.Get(ctx, noncePrefix+userID).Result()
}

func DelNonce(ctx context.Context, rdb *redis.Client, userID string) error {
	return rdb.Del(ctx, noncePrefix+userID).Err()
}

// PublishEvent appends a governance event to the shared stream so other
// consumers (web frontend, audit log) can follow lifecycle transitions.
func PublishEvent(ctx context.Context, rdb *redis.Client, payload map[string]interface{}) error {
	if rdb == nil {
		return nil
	}
	_, err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamEvents,
		Values: payload,
	}).Result()
	return err
}
