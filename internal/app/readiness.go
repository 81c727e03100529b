// Package app wires application components and startup helpers.
//
// It provides dependency injection and application initialization.
// The package coordinates between different layers and provides
// a clean application bootstrap process.
package app

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// BuildRedisReadinessCheck returns a readiness check for the
// submission-throttling Redis instance; the database check is handled
// directly by httpserver.Server via its Pinger.
func BuildRedisReadinessCheck(rdb *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if rdb == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return rdb.Ping(ctx).Err()
	}
}
