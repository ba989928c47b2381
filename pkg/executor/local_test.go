package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticerun/dispatcher/pkg/transportable"
)

func newLocalExecutor(t *testing.T, reg *MapCallableRegistry) *LocalExecutor {
	t.Helper()
	factory := NewLocalExecutorFactory(reg, nil)
	ex, err := factory(nil)
	require.NoError(t, err)
	return ex.(*LocalExecutor)
}

func TestLocalExecutor_Execute_Success(t *testing.T) {
	reg := NewMapCallableRegistry()
	reg.Register("add", func(args []any, kwargs map[string]any) (any, error) {
		return args[0].(float64) + args[1].(float64), nil
	})
	ex := newLocalExecutor(t, reg)

	req := Request{
		Function: transportable.MustWrap("add"),
		Args:     []transportable.Transportable{transportable.MustWrap(2), transportable.MustWrap(3)},
	}
	resp, err := ex.Execute(context.Background(), req)
	require.NoError(t, err)

	var out float64
	require.NoError(t, transportable.Materialize(resp.Output, &out))
	assert.Equal(t, 5.0, out)
}

func TestLocalExecutor_Execute_CallableNotRegistered(t *testing.T) {
	ex := newLocalExecutor(t, NewMapCallableRegistry())
	req := Request{Function: transportable.MustWrap("missing")}
	_, err := ex.Execute(context.Background(), req)
	assert.Error(t, err)
}

func TestLocalExecutor_Execute_PanicRecovered(t *testing.T) {
	reg := NewMapCallableRegistry()
	reg.Register("boom", func(args []any, kwargs map[string]any) (any, error) {
		panic("kaboom")
	})
	ex := newLocalExecutor(t, reg)

	req := Request{Function: transportable.MustWrap("boom")}
	_, err := ex.Execute(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in node callable")
}

func TestLocalExecutor_Execute_CallBeforeAfterHooks(t *testing.T) {
	reg := NewMapCallableRegistry()
	var order []string
	reg.Register("before", func(args []any, kwargs map[string]any) (any, error) {
		order = append(order, "before")
		return nil, nil
	})
	reg.Register("after", func(args []any, kwargs map[string]any) (any, error) {
		order = append(order, "after")
		return nil, nil
	})
	reg.Register("main", func(args []any, kwargs map[string]any) (any, error) {
		order = append(order, "main")
		return "done", nil
	})
	ex := newLocalExecutor(t, reg)

	req := Request{
		Function:   transportable.MustWrap("main"),
		CallBefore: []Hook{{Function: transportable.MustWrap("before")}},
		CallAfter:  []Hook{{Function: transportable.MustWrap("after")}},
	}
	_, err := ex.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"before", "main", "after"}, order)
}

func TestLocalExecutor_Execute_HookArgsAndKwargsReachCallable(t *testing.T) {
	reg := NewMapCallableRegistry()
	var gotArgs []any
	var gotKwargs map[string]any
	reg.Register("before", func(args []any, kwargs map[string]any) (any, error) {
		gotArgs = args
		gotKwargs = kwargs
		return nil, nil
	})
	reg.Register("main", func(args []any, kwargs map[string]any) (any, error) {
		return "done", nil
	})
	ex := newLocalExecutor(t, reg)

	req := Request{
		Function: transportable.MustWrap("main"),
		CallBefore: []Hook{{
			Function: transportable.MustWrap("before"),
			Args:     []transportable.Transportable{transportable.MustWrap("hi")},
			Kwargs:   map[string]transportable.Transportable{"n": transportable.MustWrap(7)},
		}},
	}
	_, err := ex.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, gotArgs, 1)
	assert.Equal(t, "hi", gotArgs[0])
	assert.Equal(t, 7.0, gotKwargs["n"])
}

func TestLocalExecutor_Execute_ShellDependencyAsCallBeforeHook(t *testing.T) {
	// S7: a shell-command dependency bundle used as call_before must run
	// the same way it would as the node's primary function.
	reg := NewMapCallableRegistry()
	called := false
	reg.Register("main", func(args []any, kwargs map[string]any) (any, error) {
		called = true
		return nil, nil
	})
	ex := newLocalExecutor(t, reg)

	commands, err := transportable.Wrap([]string{"echo from-hook"})
	require.NoError(t, err)

	req := Request{
		Function: transportable.MustWrap("main"),
		CallBefore: []Hook{{
			Function: transportable.MustWrap("__dep_run_shell__"),
			Args:     []transportable.Transportable{commands},
		}},
	}
	_, err = ex.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, called)
}

func TestLocalExecutor_Execute_CallBeforeFailureAbortsMain(t *testing.T) {
	reg := NewMapCallableRegistry()
	called := false
	reg.Register("main", func(args []any, kwargs map[string]any) (any, error) {
		called = true
		return nil, nil
	})
	ex := newLocalExecutor(t, reg)

	req := Request{
		Function:   transportable.MustWrap("main"),
		CallBefore: []Hook{{Function: transportable.MustWrap("unregistered_hook")}},
	}
	_, err := ex.Execute(context.Background(), req)
	require.Error(t, err)
	assert.False(t, called)
}

func TestLocalExecutor_Execute_ShellDependencySentinel(t *testing.T) {
	ex := newLocalExecutor(t, NewMapCallableRegistry())

	commands, err := transportable.Wrap([]string{"echo from-dep"})
	require.NoError(t, err)

	req := Request{
		Function: transportable.MustWrap("__dep_run_shell__"),
		Args:     []transportable.Transportable{commands},
	}
	resp, err := ex.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, resp.Stdout, "from-dep")
}

func TestLocalExecutor_Execute_PackageDependencySentinelIsNoop(t *testing.T) {
	ex := newLocalExecutor(t, NewMapCallableRegistry())
	req := Request{Function: transportable.MustWrap("__dep_install_packages__")}
	resp, err := ex.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, resp.Stdout)
}
