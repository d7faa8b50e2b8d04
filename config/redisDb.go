package config

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

var (
	rdb    *redis.Client
	locker *redislock.Client
)

func GetRedisDB() *redis.Client {
	return rdb
}

// GetRedisLock returns nil when Redis is not configured. Callers treat the
// Redis lock as best-effort and rely on MySQL advisory locks for correctness.
func GetRedisLock() *redislock.Client {
	return locker
}

// ConnectRedis connects the global Redis client + lock client.
// REDIS_ADDRESS unset means Redis is disabled; cron workers run fine without it.
func ConnectRedis(ctx context.Context, maxAttempts int) {
	redisAddr := strings.TrimSpace(os.Getenv("REDIS_ADDRESS"))
	if redisAddr == "" {
		log.Printf("REDIS_ADDRESS not set; redis locks disabled")
		return
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		client := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       0,
			PoolSize: 20,
		})
		err := client.Ping(ctx).Err()
		if err == nil {
			rdb = client
			locker = redislock.New(rdb)
			log.Printf("connected to redis (attempt=%d addr=%s)", attempt, redisAddr)
			return
		}
		_ = client.Close()

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		log.Printf("failed to connect redis (attempt=%d addr=%s): %v; retrying in %s", attempt, redisAddr, err, sleep)
		if attempt < maxAttempts {
			time.Sleep(sleep)
		}
	}
	log.Printf("redis unavailable after %d attempts; redis locks disabled", maxAttempts)
}

func CloseRedis() {
	if rdb != nil {
		_ = rdb.Close()
	}
}
