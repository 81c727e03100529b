package app_test

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphscript/evalserver/internal/app"
)

func TestBuildRedisReadinessCheck_NilClient_IsNoop(t *testing.T) {
	check := app.BuildRedisReadinessCheck(nil)
	assert.NoError(t, check(context.Background()))
}

func TestBuildRedisReadinessCheck_Reachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	check := app.BuildRedisReadinessCheck(rdb)
	assert.NoError(t, check(context.Background()))
}

func TestBuildRedisReadinessCheck_Unreachable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	defer rdb.Close()

	check := app.BuildRedisReadinessCheck(rdb)
	assert.Error(t, check(context.Background()))
}
