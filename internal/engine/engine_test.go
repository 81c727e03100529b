package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphscript/evalserver/internal/domain"
	"github.com/graphscript/evalserver/internal/engine"
)

func TestPool_Submit_ReturnsResult(t *testing.T) {
	p := engine.NewPool(2, time.Second)
	future, err := p.Submit(context.Background(), "return 1 + 1", "", nil)
	require.NoError(t, err)
	v, err := future.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float64(2), v)
}

func TestPool_Submit_UsesBindings(t *testing.T) {
	p := engine.NewPool(1, time.Second)
	future, err := p.Submit(context.Background(), "return x + 1", "", map[string]any{"x": 41})
	require.NoError(t, err)
	v, err := future.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float64(42), v)
}

func TestPool_Submit_ScriptError(t *testing.T) {
	p := engine.NewPool(1, time.Second)
	future, err := p.Submit(context.Background(), "this is not valid lua {{{", "", nil)
	require.NoError(t, err)
	_, err = future.Await(context.Background())
	assert.ErrorIs(t, err, domain.ErrScriptEvaluation)
}

func TestPool_Submit_UnsupportedLanguage(t *testing.T) {
	p := engine.NewPool(1, time.Second)
	_, err := p.Submit(context.Background(), "return 1", "groovy", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArguments)
}

func TestPool_Submit_Timeout(t *testing.T) {
	p := engine.NewPool(1, 20*time.Millisecond)
	future, err := p.Submit(context.Background(), "while true do end", "", nil)
	require.NoError(t, err)
	_, err = future.Await(context.Background())
	assert.ErrorIs(t, err, domain.ErrEvaluationTimeout)
}

func TestPool_Submit_EmptyResultIsNil(t *testing.T) {
	p := engine.NewPool(1, time.Second)
	future, err := p.Submit(context.Background(), "local x = 1", "", nil)
	require.NoError(t, err)
	v, err := future.Await(context.Background())
	require.NoError(t, err)
	assert.Nil(t, v)
}
