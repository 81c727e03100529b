// Package engine implements domain.ScriptEngine over a pool of gopher-lua
// virtual machines, standing in for Gremlin Server's pluggable
// Groovy/JavaScript engine pool (spec §5, "a script-executor worker drawn
// from the scripting engine's pool").
package engine

import (
	"context"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/graphscript/evalserver/internal/adapter/observability"
	"github.com/graphscript/evalserver/internal/domain"
)

// DefaultLanguage is the engine identifier used when a request omits
// `language`.
const DefaultLanguage = "lua"

// job is a unit of work submitted to a pool worker.
type job struct {
	ctx      context.Context
	script   string
	bindings map[string]any
	result   chan jobResult
}

type jobResult struct {
	value any
	err   error
}

// Pool is a bounded pool of Lua VMs evaluating scripts off the I/O thread.
// Each Submit call is handed to a free worker goroutine; evaluation and its
// completion callback execute on that worker, never on the caller's
// goroutine, mirroring the source's worker-pool scheduling model.
type Pool struct {
	jobs    chan job
	timeout time.Duration
}

// NewPool starts size worker goroutines; a worker creates a fresh
// *lua.LState for each script it runs and closes it afterwards. evalTimeout bounds a single script's execution; exceeding
// it surfaces as domain.ErrEvaluationTimeout.
func NewPool(size int, evalTimeout time.Duration) *Pool {
	if size <= 0 {
		size = 1
	}
	p := &Pool{jobs: make(chan job, size*4), timeout: evalTimeout}
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	for j := range p.jobs {
		observability.EngineWorkerPoolInUse.Inc()
		value, err := evalOnce(j.ctx, j.script, j.bindings, p.timeout)
		observability.EngineWorkerPoolInUse.Dec()
		select {
		case j.result <- jobResult{value: value, err: err}:
		case <-j.ctx.Done():
		}
	}
}

func evalOnce(ctx context.Context, script string, bindings map[string]any, timeout time.Duration) (any, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	l := lua.NewState()
	defer l.Close()
	l.SetContext(ctx)

	for name, value := range bindings {
		l.SetGlobal(name, goToLua(l, value))
	}

	done := make(chan error, 1)
	go func() {
		done <- l.DoString(script)
	}()

	select {
	case err := <-done:
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w", domain.ErrEvaluationTimeout)
			}
			return nil, fmt.Errorf("%w: %s", domain.ErrScriptEvaluation, err.Error())
		}
	case <-ctx.Done():
		return nil, fmt.Errorf("%w", domain.ErrEvaluationTimeout)
	}

	return luaResultsToGo(l), nil
}

// luaResultsToGo drains values left on the stack by DoString and converts
// them to a plain Go slice; an empty stack maps to nil (routed through the
// empty-iterator adaptor by the Evaluator per §9 ambiguity 3).
func luaResultsToGo(l *lua.LState) any {
	n := l.GetTop()
	if n == 0 {
		return nil
	}
	if n == 1 {
		return luaToGo(l.Get(1))
	}
	out := make([]any, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, luaToGo(l.Get(i)))
	}
	return out
}

func luaToGo(v lua.LValue) any {
	switch t := v.(type) {
	case lua.LBool:
		return bool(t)
	case lua.LNumber:
		return float64(t)
	case lua.LString:
		return string(t)
	case *lua.LTable:
		out := []any{}
		t.ForEach(func(_, tv lua.LValue) {
			out = append(out, luaToGo(tv))
		})
		return out
	case *lua.LNilType:
		return nil
	default:
		return fmt.Sprintf("%v", v)
	}
}

func goToLua(l *lua.LState, v any) lua.LValue {
	switch t := v.(type) {
	case bool:
		return lua.LBool(t)
	case string:
		return lua.LString(t)
	case int:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case float64:
		return lua.LNumber(t)
	case nil:
		return lua.LNil
	default:
		return lua.LString(fmt.Sprintf("%v", t))
	}
}

// future implements domain.EvalFuture over a jobResult channel.
type future struct {
	result chan jobResult
}

func (f *future) Await(ctx domain.Context) (any, error) {
	select {
	case r := <-f.result:
		return r.value, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w", domain.ErrEvaluationTimeout)
	}
}

// Submit implements domain.ScriptEngine. language is currently ignored
// beyond validation: the pool only hosts a Lua interpreter, the way a
// single-language Gremlin Server deployment only wires one ScriptEngine.
func (p *Pool) Submit(ctx domain.Context, script, language string, bindings map[string]any) (domain.EvalFuture, error) {
	if language != "" && language != DefaultLanguage {
		return nil, fmt.Errorf("%w: unsupported language %q", domain.ErrInvalidArguments, language)
	}

	resultCh := make(chan jobResult, 1)
	j := job{ctx: ctx, script: script, bindings: bindings, result: resultCh}

	select {
	case p.jobs <- j:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w", domain.ErrInterrupted)
	}

	return &future{result: resultCh}, nil
}
