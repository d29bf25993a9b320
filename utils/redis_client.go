package utils

import (
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/portfolio-site/projectstats/config"
)

// NewRedisClient returns a client for the configured Redis, or nil when Redis is not configured.
func NewRedisClient(cfg config.AppConfig) *redis.Client {
	if cfg.RedisHost == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.RedisHost, strconv.Itoa(cfg.RedisPort)),
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}
