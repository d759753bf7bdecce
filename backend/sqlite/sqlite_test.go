package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Pranavj17/echo-sub001/backend"
	"github.com/Pranavj17/echo-sub001/core"
	"github.com/Pranavj17/echo-sub001/flow"
)

func newMessage(to core.Role, createdAt time.Time) *core.Message {
	return &core.Message{
		ID:        uuid.NewString(),
		From:      core.RoleCEO,
		To:        to,
		Kind:      core.KindRequest,
		Subject:   "budget",
		Content:   map[string]any{"cost": float64(100)},
		Status:    core.MessageStatusPending,
		CreatedAt: createdAt,
	}
}

func Test_MessageRoundTrip(t *testing.T) {
	b := NewInMemoryBackend()
	defer b.Close()
	ctx := context.Background()

	msg := newMessage(core.RoleCTO, time.Now().UTC())
	require.NoError(t, b.InsertMessage(ctx, msg))

	got, err := b.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.Equal(t, msg.ID, got.ID)
	require.Equal(t, core.RoleCEO, got.From)
	require.Equal(t, core.RoleCTO, got.To)
	require.Equal(t, core.KindRequest, got.Kind)
	require.Equal(t, "budget", got.Subject)
	require.Equal(t, map[string]any{"cost": float64(100)}, got.Content)
	require.False(t, got.Read)
	require.Equal(t, core.MessageStatusPending, got.Status)
}

func Test_GetMessage_NotFound(t *testing.T) {
	b := NewInMemoryBackend()
	defer b.Close()

	_, err := b.GetMessage(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, backend.ErrMessageNotFound)
}

func Test_UnreadMessages_OrderAndFiltering(t *testing.T) {
	b := NewInMemoryBackend()
	defer b.Close()
	ctx := context.Background()

	base := time.Now().UTC()

	second := newMessage(core.RoleCTO, base.Add(time.Second))
	first := newMessage(core.RoleCTO, base)
	other := newMessage(core.RoleCEO, base)
	read := newMessage(core.RoleCTO, base.Add(2*time.Second))

	for _, m := range []*core.Message{second, first, other, read} {
		require.NoError(t, b.InsertMessage(ctx, m))
	}
	require.NoError(t, b.MarkProcessed(ctx, read.ID))

	msgs, err := b.UnreadMessages(ctx, core.RoleCTO)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, first.ID, msgs[0].ID)
	require.Equal(t, second.ID, msgs[1].ID)
}

func Test_UnreadBroadcasts_Limit(t *testing.T) {
	b := NewInMemoryBackend()
	defer b.Close()
	ctx := context.Background()

	base := time.Now().UTC()
	var ids []string
	for i := 0; i < 5; i++ {
		msg := newMessage(core.RoleAll, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, b.InsertMessage(ctx, msg))
		ids = append(ids, msg.ID)
	}

	// The window holds the most recent rows, returned oldest first.
	msgs, err := b.UnreadBroadcasts(ctx, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, ids[2], msgs[0].ID)
	require.Equal(t, ids[3], msgs[1].ID)
	require.Equal(t, ids[4], msgs[2].ID)
	require.True(t, msgs[0].CreatedAt.Before(msgs[1].CreatedAt))
}

func Test_UnreadBroadcasts_NewBroadcastStaysReachable(t *testing.T) {
	b := NewInMemoryBackend()
	defer b.Close()
	ctx := context.Background()

	// Broadcast rows are never marked read, so the unread set exceeds the
	// fetch window over time. A broadcast published afterwards must still
	// show up in catch-up.
	base := time.Now().UTC()
	for i := 0; i < 50; i++ {
		require.NoError(t, b.InsertMessage(ctx, newMessage(core.RoleAll, base.Add(time.Duration(i)*time.Second))))
	}

	fresh := newMessage(core.RoleAll, base.Add(time.Hour))
	fresh.Subject = "all hands"
	require.NoError(t, b.InsertMessage(ctx, fresh))

	msgs, err := b.UnreadBroadcasts(ctx, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 50)
	require.Equal(t, fresh.ID, msgs[len(msgs)-1].ID)
	require.Equal(t, "all hands", msgs[len(msgs)-1].Subject)
}

func Test_MarkProcessed_Idempotent(t *testing.T) {
	b := NewInMemoryBackend()
	defer b.Close()
	ctx := context.Background()

	msg := newMessage(core.RoleCTO, time.Now().UTC())
	require.NoError(t, b.InsertMessage(ctx, msg))

	require.NoError(t, b.MarkProcessed(ctx, msg.ID))
	require.NoError(t, b.MarkProcessed(ctx, msg.ID))

	got, err := b.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.True(t, got.Read)
	require.Equal(t, core.MessageStatusProcessed, got.Status)
}

func Test_MarkFailed(t *testing.T) {
	b := NewInMemoryBackend()
	defer b.Close()
	ctx := context.Background()

	msg := newMessage(core.RoleCTO, time.Now().UTC())
	require.NoError(t, b.InsertMessage(ctx, msg))

	require.NoError(t, b.MarkFailed(ctx, msg.ID, "handler crashed"))

	got, err := b.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.True(t, got.Read)
	require.Equal(t, core.MessageStatusFailed, got.Status)
	require.Equal(t, "handler crashed", got.FailureReason)

	require.ErrorIs(t, b.MarkProcessed(ctx, uuid.NewString()), backend.ErrMessageNotFound)
}

func newExecution() *flow.Execution {
	now := time.Now().UTC()
	return &flow.Execution{
		ID:             uuid.NewString(),
		FlowType:       "approval",
		Status:         flow.StatusPending,
		State:          flow.State{"cost": float64(2000000)},
		RouteTaken:     []string{},
		CompletedSteps: []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func Test_ExecutionRoundTrip(t *testing.T) {
	b := NewInMemoryBackend()
	defer b.Close()
	ctx := context.Background()

	exec := newExecution()
	require.NoError(t, b.CreateExecution(ctx, exec))

	exec.Status = flow.StatusAwaitingResponse
	exec.CurrentStep = "escalate"
	exec.CurrentTrigger = "escalate"
	exec.RouteTaken = []string{"escalate"}
	exec.CompletedSteps = []string{"validate", "escalate"}
	exec.PauseReason = "waiting for ceo"
	exec.AwaitedResponse = &flow.AwaitDescriptor{
		Role:          core.RoleCEO,
		CorrelationID: "req-1",
		Deadline:      time.Now().UTC().Add(time.Minute).Truncate(time.Millisecond),
	}
	require.NoError(t, b.UpdateExecution(ctx, exec))

	got, err := b.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Equal(t, flow.StatusAwaitingResponse, got.Status)
	require.Equal(t, "escalate", got.CurrentStep)
	require.Equal(t, []string{"escalate"}, got.RouteTaken)
	require.Equal(t, []string{"validate", "escalate"}, got.CompletedSteps)
	require.Equal(t, "waiting for ceo", got.PauseReason)
	require.NotNil(t, got.AwaitedResponse)
	require.Equal(t, core.RoleCEO, got.AwaitedResponse.Role)
	require.Equal(t, "req-1", got.AwaitedResponse.CorrelationID)
	require.Equal(t, flow.State{"cost": float64(2000000)}, got.State)
	require.Nil(t, got.CompletedAt)
}

func Test_CreateExecution_Duplicate(t *testing.T) {
	b := NewInMemoryBackend()
	defer b.Close()
	ctx := context.Background()

	exec := newExecution()
	require.NoError(t, b.CreateExecution(ctx, exec))
	require.ErrorIs(t, b.CreateExecution(ctx, exec), backend.ErrExecutionExists)
}

func Test_UpdateExecution_NotFound(t *testing.T) {
	b := NewInMemoryBackend()
	defer b.Close()

	exec := newExecution()
	require.ErrorIs(t, b.UpdateExecution(context.Background(), exec), backend.ErrExecutionNotFound)
}

func Test_AwaitingExecutions(t *testing.T) {
	b := NewInMemoryBackend()
	defer b.Close()
	ctx := context.Background()

	waiting := newExecution()
	waiting.Status = flow.StatusAwaitingResponse
	waiting.AwaitedResponse = &flow.AwaitDescriptor{Role: core.RoleCEO, CorrelationID: "req-1", Deadline: time.Now().UTC()}
	require.NoError(t, b.CreateExecution(ctx, waiting))

	running := newExecution()
	running.Status = flow.StatusRunning
	require.NoError(t, b.CreateExecution(ctx, running))

	got, err := b.AwaitingExecutions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, waiting.ID, got[0].ID)
}
