package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Pranavj17/echo-sub001/agent"
	"github.com/Pranavj17/echo-sub001/backend"
	"github.com/Pranavj17/echo-sub001/backend/sqlite"
	"github.com/Pranavj17/echo-sub001/bus"
	"github.com/Pranavj17/echo-sub001/coordinator"
	"github.com/Pranavj17/echo-sub001/core"
	"github.com/Pranavj17/echo-sub001/engine"
	"github.com/Pranavj17/echo-sub001/flow"
)

// Expense approval demo: cheap requests auto-approve, expensive ones are
// escalated to a CEO worker over the bus and the flow suspends until the
// verdict arrives. Requires a local Redis at localhost:6379.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	store := sqlite.NewInMemoryBackend()
	defer store.Close()

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{"localhost:6379"},
	})
	defer rdb.Close()

	notifier := bus.NewRedisNotifier(rdb)
	b := bus.New(store, notifier, backend.WithLogger(logger))

	eng := engine.New(store, engine.WithBackendOptions(backend.WithLogger(logger)))
	coord := coordinator.New(eng, rdb, coordinator.WithBackendOptions(backend.WithLogger(logger)))
	eng.SetAwaiter(coord)

	if err := eng.RegisterDefinition(approvalFlow(b)); err != nil {
		panic(err)
	}

	go func() {
		if err := coord.Run(ctx); err != nil {
			logger.Error("coordinator stopped", "error", err)
		}
	}()

	ceo, err := agent.New(b, rdb, core.RoleCEO, backend.WithLogger(logger))
	if err != nil {
		panic(err)
	}

	go func() {
		if err := ceo.Run(ctx, ceoHandler(notifier)); err != nil && ctx.Err() == nil {
			logger.Error("ceo agent stopped", "error", err)
		}
	}()

	// Give the subscriptions a moment to attach.
	time.Sleep(500 * time.Millisecond)

	cheap := startExpense(ctx, eng, 500_000)
	expensive := startExpense(ctx, eng, 2_000_000)

	for _, id := range []string{cheap, expensive} {
		printOutcome(ctx, eng, id)
	}
}

func approvalFlow(b *bus.Bus) *flow.Definition {
	def, err := flow.NewBuilder("expense_approval").
		Start("validate_request", func(ctx context.Context, st flow.State) error {
			if _, ok := st["cost"]; !ok {
				return fmt.Errorf("missing cost")
			}
			return nil
		}).
		Router("validate_request", flow.MustExprRouter([]flow.Rule{
			{When: "cost > 1000000", Then: "escalate"},
		}, "auto_approve")).
		Listener("auto_approve", "auto_approve", func(ctx context.Context, st flow.State) (*flow.AwaitRequest, error) {
			st["approved"] = true
			st["approver"] = "policy"
			return nil, nil
		}).
		Listener("escalate", "request_ceo_approval", func(ctx context.Context, st flow.State) (*flow.AwaitRequest, error) {
			correlationID := uuid.NewString()

			_, err := b.Publish(ctx, core.RoleEngineer, core.RoleCEO, core.KindRequest, "expense approval", map[string]any{
				"requestId": correlationID,
				"cost":      st["cost"],
			})
			if err != nil {
				return nil, err
			}

			return &flow.AwaitRequest{
				Role:          core.RoleCEO,
				CorrelationID: correlationID,
				Timeout:       30 * time.Second,
			}, nil
		}).
		Router("request_ceo_approval", func(ctx context.Context, st flow.State) (flow.Label, error) {
			if approved, _ := st["approved"].(bool); approved {
				return "record_approval", nil
			}
			return "record_rejection", nil
		}).
		Listener("record_approval", "record_approval", func(ctx context.Context, st flow.State) (*flow.AwaitRequest, error) {
			st["approver"] = "ceo"
			return nil, nil
		}).
		Listener("record_rejection", "record_rejection", func(ctx context.Context, st flow.State) (*flow.AwaitRequest, error) {
			st["approver"] = "ceo"
			st["approved"] = false
			return nil, nil
		}).
		Build()
	if err != nil {
		panic(err)
	}

	return def
}

// ceoHandler approves anything up to five million and replies on the shared
// responses topic the coordinator listens on.
func ceoHandler(notifier bus.Notifier) agent.Handler {
	return func(ctx context.Context, env *core.Envelope) error {
		if env.Type != string(core.KindRequest) || env.CorrelationID() == "" {
			return nil
		}

		cost, _ := env.Content["cost"].(float64)

		reply := &core.Envelope{
			ID:        uuid.NewString(),
			From:      string(core.RoleCEO),
			To:        "workflow",
			Type:      string(core.KindResponse),
			Subject:   "re: " + env.Subject,
			RequestID: env.CorrelationID(),
			Content: map[string]any{
				"approved": cost <= 5_000_000,
			},
			Metadata: core.Metadata{Timestamp: time.Now().UTC()},
		}

		_, err := notifier.Notify(ctx, bus.ResponsesTopic, reply)
		return err
	}
}

func startExpense(ctx context.Context, eng *engine.Engine, cost int) string {
	id, err := eng.Start(ctx, "expense_approval", flow.State{"cost": cost})
	if err != nil {
		panic(err)
	}

	fmt.Println("started expense approval", id, "cost", cost)

	return id
}

func printOutcome(ctx context.Context, eng *engine.Engine, id string) {
	for {
		exec, err := eng.Get(ctx, id)
		if err != nil {
			panic(err)
		}

		if exec.Status.Finished() {
			fmt.Printf("%s: %s approved=%v approver=%v route=%v\n",
				id, exec.Status, exec.State["approved"], exec.State["approver"], exec.RouteTaken)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}
