package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Pranavj17/echo-sub001/backend"
	"github.com/Pranavj17/echo-sub001/flow"
)

const executionColumns = "id, flow_type, status, state, current_step, current_trigger, route_taken, completed_steps, awaited_response, error, pause_reason, created_at, updated_at, completed_at"

func (sb *sqliteBackend) CreateExecution(ctx context.Context, e *flow.Execution) error {
	state, routeTaken, completedSteps, awaited, err := sb.serializeExecution(e)
	if err != nil {
		return err
	}

	res, err := sb.db.ExecContext(
		ctx,
		"INSERT OR IGNORE INTO `executions` ("+executionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		e.ID,
		e.FlowType,
		string(e.Status),
		state,
		e.CurrentStep,
		e.CurrentTrigger,
		routeTaken,
		completedSteps,
		awaited,
		nullable(e.Error),
		nullable(e.PauseReason),
		e.CreatedAt,
		e.UpdatedAt,
		e.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting execution: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if rows != 1 {
		return backend.ErrExecutionExists
	}

	return nil
}

func (sb *sqliteBackend) UpdateExecution(ctx context.Context, e *flow.Execution) error {
	state, routeTaken, completedSteps, awaited, err := sb.serializeExecution(e)
	if err != nil {
		return err
	}

	res, err := sb.db.ExecContext(
		ctx,
		`UPDATE executions SET status = ?, state = ?, current_step = ?, current_trigger = ?, route_taken = ?,
			completed_steps = ?, awaited_response = ?, error = ?, pause_reason = ?, updated_at = ?, completed_at = ?
			WHERE id = ?`,
		string(e.Status),
		state,
		e.CurrentStep,
		e.CurrentTrigger,
		routeTaken,
		completedSteps,
		awaited,
		nullable(e.Error),
		nullable(e.PauseReason),
		e.UpdatedAt,
		e.CompletedAt,
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("updating execution: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return backend.ErrExecutionNotFound
	}

	return nil
}

func (sb *sqliteBackend) GetExecution(ctx context.Context, id string) (*flow.Execution, error) {
	row := sb.db.QueryRowContext(
		ctx,
		"SELECT "+executionColumns+" FROM `executions` WHERE id = ?",
		id,
	)

	e, err := sb.scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, backend.ErrExecutionNotFound
	}

	return e, err
}

func (sb *sqliteBackend) AwaitingExecutions(ctx context.Context) ([]*flow.Execution, error) {
	rows, err := sb.db.QueryContext(
		ctx,
		"SELECT "+executionColumns+" FROM `executions` WHERE status = ? ORDER BY created_at ASC",
		string(flow.StatusAwaitingResponse),
	)
	if err != nil {
		return nil, fmt.Errorf("querying awaiting executions: %w", err)
	}
	defer rows.Close()

	var es []*flow.Execution
	for rows.Next() {
		e, err := sb.scanExecution(rows)
		if err != nil {
			return nil, err
		}

		es = append(es, e)
	}

	return es, rows.Err()
}

func (sb *sqliteBackend) serializeExecution(e *flow.Execution) (state, routeTaken, completedSteps, awaited []byte, err error) {
	s, err := sb.options.Converter.To(e.State)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("serializing state: %w", err)
	}

	rt, err := sb.options.Converter.To(e.RouteTaken)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("serializing route history: %w", err)
	}

	cs, err := sb.options.Converter.To(e.CompletedSteps)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("serializing completed steps: %w", err)
	}

	var aw []byte
	if e.AwaitedResponse != nil {
		p, err := sb.options.Converter.To(e.AwaitedResponse)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("serializing awaited response: %w", err)
		}

		aw = p
	}

	return s, rt, cs, aw, nil
}

func (sb *sqliteBackend) scanExecution(row rowScanner) (*flow.Execution, error) {
	var e flow.Execution
	var status string
	var state, routeTaken, completedSteps, awaited []byte
	var errStr, pauseReason sql.NullString
	var completedAt sql.NullTime

	if err := row.Scan(
		&e.ID,
		&e.FlowType,
		&status,
		&state,
		&e.CurrentStep,
		&e.CurrentTrigger,
		&routeTaken,
		&completedSteps,
		&awaited,
		&errStr,
		&pauseReason,
		&e.CreatedAt,
		&e.UpdatedAt,
		&completedAt,
	); err != nil {
		return nil, err
	}

	e.Status = flow.Status(status)
	e.Error = errStr.String
	e.PauseReason = pauseReason.String

	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}

	if err := sb.options.Converter.From(state, &e.State); err != nil {
		return nil, fmt.Errorf("deserializing state: %w", err)
	}

	if err := sb.options.Converter.From(routeTaken, &e.RouteTaken); err != nil {
		return nil, fmt.Errorf("deserializing route history: %w", err)
	}

	if err := sb.options.Converter.From(completedSteps, &e.CompletedSteps); err != nil {
		return nil, fmt.Errorf("deserializing completed steps: %w", err)
	}

	if len(awaited) > 0 {
		var desc flow.AwaitDescriptor
		if err := sb.options.Converter.From(awaited, &desc); err != nil {
			return nil, fmt.Errorf("deserializing awaited response: %w", err)
		}

		e.AwaitedResponse = &desc
	}

	return &e, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}
