package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Pranavj17/echo-sub001/backend/sqlite"
	"github.com/Pranavj17/echo-sub001/bus"
	"github.com/Pranavj17/echo-sub001/core"
)

// silentNotifier simulates a down low-latency channel; everything must flow
// through catch-up.
type silentNotifier struct{}

func (silentNotifier) Notify(ctx context.Context, topic string, env *core.Envelope) (int64, error) {
	return 0, errors.New("redis unavailable")
}

func newTestSetup(t *testing.T) *bus.Bus {
	t.Helper()

	store := sqlite.NewInMemoryBackend()
	t.Cleanup(func() { store.Close() })

	return bus.New(store, silentNotifier{})
}

func Test_New_RejectsUnknownRole(t *testing.T) {
	b := newTestSetup(t)

	_, err := New(b, nil, core.Role("intern"))
	var roleErr *core.RoleError
	require.ErrorAs(t, err, &roleErr)
}

func Test_CatchUp(t *testing.T) {
	b := newTestSetup(t)
	ctx := context.Background()

	id1, err := b.Publish(ctx, core.RoleCEO, core.RoleEngineer, core.KindRequest, "first", map[string]any{"n": float64(1)})
	require.NoError(t, err)
	id2, err := b.Publish(ctx, core.RoleCEO, core.RoleEngineer, core.KindRequest, "second", map[string]any{"n": float64(2)})
	require.NoError(t, err)

	// Addressed elsewhere; must not be replayed to the engineer.
	_, err = b.Publish(ctx, core.RoleCEO, core.RoleSupport, core.KindRequest, "other", nil)
	require.NoError(t, err)

	a, err := New(b, nil, core.RoleEngineer)
	require.NoError(t, err)

	var seen []*core.Envelope
	err = a.CatchUp(ctx, func(ctx context.Context, env *core.Envelope) error {
		seen = append(seen, env)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, seen, 2)
	require.Equal(t, id1, seen[0].DurableID)
	require.Equal(t, "first", seen[0].Subject)
	require.Equal(t, id2, seen[1].DurableID)

	// Handled messages are marked; a second catch-up replays nothing.
	seen = nil
	require.NoError(t, a.CatchUp(ctx, func(ctx context.Context, env *core.Envelope) error {
		seen = append(seen, env)
		return nil
	}))
	require.Empty(t, seen)
}

func Test_CatchUp_HandlerFailureMarksFailed(t *testing.T) {
	b := newTestSetup(t)
	ctx := context.Background()

	_, err := b.Publish(ctx, core.RoleCEO, core.RoleEngineer, core.KindRequest, "bad", nil)
	require.NoError(t, err)
	okID, err := b.Publish(ctx, core.RoleCEO, core.RoleEngineer, core.KindRequest, "good", nil)
	require.NoError(t, err)

	a, err := New(b, nil, core.RoleEngineer)
	require.NoError(t, err)

	err = a.CatchUp(ctx, func(ctx context.Context, env *core.Envelope) error {
		if env.Subject == "bad" {
			return errors.New("cannot handle")
		}
		return nil
	})
	require.NoError(t, err)

	// A failing handler does not stall the rest of the backlog, and the
	// failed message does not come back on the next catch-up.
	msgs, err := b.FetchUnread(ctx, core.RoleEngineer)
	require.NoError(t, err)
	require.Empty(t, msgs)
	_ = okID
}

func Test_CatchUp_IncludesBroadcasts(t *testing.T) {
	b := newTestSetup(t)
	ctx := context.Background()

	bcID, err := b.Broadcast(ctx, core.RoleCEO, core.KindNotification, "all hands", nil)
	require.NoError(t, err)

	a, err := New(b, nil, core.RoleEngineer)
	require.NoError(t, err)

	var seen []*core.Envelope
	require.NoError(t, a.CatchUp(ctx, func(ctx context.Context, env *core.Envelope) error {
		seen = append(seen, env)
		return nil
	}))

	require.Len(t, seen, 1)
	require.Equal(t, bcID, seen[0].DurableID)
	require.Equal(t, string(core.RoleAll), seen[0].To)

	// Broadcast rows are shared; they are not marked per role and stay
	// visible to other roles' catch-up.
	msgs, err := b.FetchUnreadBroadcasts(ctx, core.RoleSupport)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func Test_Run_RequiresRedis(t *testing.T) {
	b := newTestSetup(t)

	a, err := New(b, nil, core.RoleEngineer)
	require.NoError(t, err)

	err = a.Run(context.Background(), func(ctx context.Context, env *core.Envelope) error {
		return nil
	})
	require.ErrorContains(t, err, "no redis client")
}
