package tools_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/agenterr"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/tools"
)

func echoDescriptor(name string) *tools.Descriptor {
	return &tools.Descriptor{
		Name: name,
		Params: []tools.Param{
			{Name: "value", Type: tools.TypeString, Required: true},
		},
		Invoke: func(ctx context.Context, args map[string]any) (any, error) {
			return args["value"], nil
		},
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := tools.NewRegistry()
	require.NoError(t, r.Register(echoDescriptor("echo")))

	d, ok := r.Get("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", d.Name)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryFreezeRejectsRegister(t *testing.T) {
	r := tools.NewRegistry()
	require.NoError(t, r.Register(echoDescriptor("echo")))
	r.Freeze()
	err := r.Register(echoDescriptor("other"))
	assert.Error(t, err)
}

func TestDispatcherInvokeSchemaError(t *testing.T) {
	r := tools.NewRegistry()
	require.NoError(t, r.Register(echoDescriptor("echo")))
	d := tools.NewDispatcher(r, nil, nil)

	obs := d.Invoke(context.Background(), tools.Call{ID: "1", Name: "echo", Arguments: map[string]any{}})
	require.Error(t, obs.Err)
	var aerr *agenterr.Error
	require.ErrorAs(t, obs.Err, &aerr)
	assert.Equal(t, agenterr.KindSchema, aerr.Kind)
}

func TestDispatcherInvokeNotFound(t *testing.T) {
	r := tools.NewRegistry()
	d := tools.NewDispatcher(r, nil, nil)
	obs := d.Invoke(context.Background(), tools.Call{ID: "1", Name: "missing"})
	require.Error(t, obs.Err)
	var aerr *agenterr.Error
	require.ErrorAs(t, obs.Err, &aerr)
	assert.Equal(t, agenterr.KindNotFound, aerr.Kind)
}

func TestDispatcherInvokeSuccess(t *testing.T) {
	r := tools.NewRegistry()
	require.NoError(t, r.Register(echoDescriptor("echo")))
	d := tools.NewDispatcher(r, nil, nil)

	obs := d.Invoke(context.Background(), tools.Call{ID: "1", Name: "echo", Arguments: map[string]any{"value": "hi"}})
	require.NoError(t, obs.Err)
	assert.Equal(t, "hi", obs.Value)
}

func TestDispatcherInvokeTimeout(t *testing.T) {
	r := tools.NewRegistry()
	require.NoError(t, r.Register(&tools.Descriptor{
		Name: "slow",
		Invoke: func(ctx context.Context, args map[string]any) (any, error) {
			select {
			case <-time.After(200 * time.Millisecond):
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}))
	d := tools.NewDispatcher(r, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	obs := d.Invoke(ctx, tools.Call{ID: "1", Name: "slow"})
	require.Error(t, obs.Err)
	var aerr *agenterr.Error
	require.ErrorAs(t, obs.Err, &aerr)
	assert.Equal(t, agenterr.KindTimeout, aerr.Kind)
}

// TestInvokeManyOrderAndParallelism is property P6: k tools that each sleep
// d and return their input unchanged complete in <=1.5d wall time with
// max_parallel=k, preserving order.
func TestInvokeManyOrderAndParallelism(t *testing.T) {
	r := tools.NewRegistry()
	const sleepFor = 40 * time.Millisecond
	require.NoError(t, r.Register(&tools.Descriptor{
		Name: "sleeper",
		Params: []tools.Param{{Name: "n", Type: tools.TypeInt, Required: true}},
		Invoke: func(ctx context.Context, args map[string]any) (any, error) {
			time.Sleep(sleepFor)
			return args["n"], nil
		},
	}))
	d := tools.NewDispatcher(r, nil, nil)

	const k = 5
	calls := make([]tools.Call, k)
	for i := 0; i < k; i++ {
		calls[i] = tools.Call{ID: string(rune('a' + i)), Name: "sleeper", Arguments: map[string]any{"n": float64(i)}}
	}

	start := time.Now()
	observations := d.InvokeMany(context.Background(), calls, k)
	elapsed := time.Since(start)

	assert.LessOrEqual(t, elapsed, time.Duration(float64(sleepFor)*1.5))
	for i, obs := range observations {
		require.NoError(t, obs.Err)
		assert.Equal(t, float64(i), obs.Value)
	}
}

func TestInvokeManyPartialFailureDoesNotAbortSiblings(t *testing.T) {
	r := tools.NewRegistry()
	require.NoError(t, r.Register(&tools.Descriptor{
		Name: "maybeFail",
		Params: []tools.Param{{Name: "fail", Type: tools.TypeBool, Required: true}},
		Invoke: func(ctx context.Context, args map[string]any) (any, error) {
			if fail, _ := args["fail"].(bool); fail {
				return nil, assertErr
			}
			return "ok", nil
		},
	}))
	d := tools.NewDispatcher(r, nil, nil)

	calls := []tools.Call{
		{ID: "1", Name: "maybeFail", Arguments: map[string]any{"fail": false}},
		{ID: "2", Name: "maybeFail", Arguments: map[string]any{"fail": true}},
		{ID: "3", Name: "maybeFail", Arguments: map[string]any{"fail": false}},
	}
	observations := d.InvokeMany(context.Background(), calls, 3)
	require.NoError(t, observations[0].Err)
	require.Error(t, observations[1].Err)
	require.NoError(t, observations[2].Err)
}

var assertErr = assertError{}

type assertError struct{}

func (assertError) Error() string { return "intentional failure" }
