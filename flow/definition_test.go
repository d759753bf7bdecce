package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func noopStep(ctx context.Context, st State) error {
	return nil
}

func noopListener(ctx context.Context, st State) (*AwaitRequest, error) {
	return nil, nil
}

func staticRouter(label Label) RouterFunc {
	return func(ctx context.Context, st State) (Label, error) {
		return label, nil
	}
}

func Test_Builder(t *testing.T) {
	def, err := NewBuilder("approval").
		Start("validate", noopStep).
		Router("validate", staticRouter("auto_approve")).
		Listener("auto_approve", "auto_approve", noopListener).
		Build()
	require.NoError(t, err)
	require.Equal(t, "approval", def.Name())
	require.Len(t, def.StartSteps(), 1)
	require.NotNil(t, def.RouterFor("validate"))
	require.Nil(t, def.RouterFor("auto_approve"))

	l, ok := def.ListenerFor("auto_approve")
	require.True(t, ok)
	require.Equal(t, "auto_approve", l.Name)

	_, ok = def.ListenerFor("escalate")
	require.False(t, ok)
}

func Test_Builder_DuplicateListenerLabel(t *testing.T) {
	_, err := NewBuilder("approval").
		Start("validate", noopStep).
		Listener("approve", "a", noopListener).
		Listener("approve", "b", noopListener).
		Build()
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	require.Contains(t, err.Error(), "duplicate listener")
}

func Test_Builder_NoStartSteps(t *testing.T) {
	_, err := NewBuilder("empty").Build()
	require.Error(t, err)
	require.Contains(t, err.Error(), "no start steps")
}

func Test_Builder_RouterOnUnknownStep(t *testing.T) {
	_, err := NewBuilder("approval").
		Start("validate", noopStep).
		Router("missing", staticRouter("x")).
		Build()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown step")
}

func Test_Builder_DuplicateStartStep(t *testing.T) {
	_, err := NewBuilder("approval").
		Start("validate", noopStep).
		Start("validate", noopStep).
		Build()
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate start step")
}

func Test_ExprRouter(t *testing.T) {
	router, err := ExprRouter([]Rule{
		{When: "cost > 1000000", Then: "escalate"},
	}, "auto_approve")
	require.NoError(t, err)

	label, err := router(context.Background(), State{"cost": 500000})
	require.NoError(t, err)
	require.Equal(t, Label("auto_approve"), label)

	label, err = router(context.Background(), State{"cost": 2000000})
	require.NoError(t, err)
	require.Equal(t, Label("escalate"), label)
}

func Test_ExprRouter_RuleOrder(t *testing.T) {
	router, err := ExprRouter([]Rule{
		{When: "cost > 10", Then: "first"},
		{When: "cost > 5", Then: "second"},
	}, "fallback")
	require.NoError(t, err)

	label, err := router(context.Background(), State{"cost": 20})
	require.NoError(t, err)
	require.Equal(t, Label("first"), label)
}

func Test_ExprRouter_CompileError(t *testing.T) {
	_, err := ExprRouter([]Rule{{When: "cost >", Then: "x"}}, "fallback")
	require.Error(t, err)
}

func Test_State(t *testing.T) {
	st := State{"a": 1}
	c := st.Clone()
	c["b"] = 2
	require.NotContains(t, st, "b")

	st.Merge(State{"a": 3, "c": 4})
	require.Equal(t, 3, st["a"])
	require.Equal(t, 4, st["c"])
}
