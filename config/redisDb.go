package config

import (
	"context"
	"log"
	"os"

	"github.com/bsm/redislock"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

var (
	rdb    *redis.Client
	locker *redislock.Client
)

func GetRedisDB() *redis.Client {
	return rdb
}

func GetRedisLock() *redislock.Client {
	return locker
}

func init() {
	godotenv.Load()
}

// ConnectRedis sets the global redis client and the distributed lock client.
// Redis being down is not fatal; pipeline locking degrades to single-instance
// behaviour and callers must treat a nil locker as "no lock available".
func ConnectRedis() {
	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		log.Printf("REDIS_ADDRESS not set; distributed locking disabled")
		return
	}
	rdb = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Printf("redis ping failed: %v", err)
	}
	locker = redislock.New(rdb)
}
