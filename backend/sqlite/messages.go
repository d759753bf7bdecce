package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Pranavj17/echo-sub001/backend"
	"github.com/Pranavj17/echo-sub001/core"
)

func (sb *sqliteBackend) InsertMessage(ctx context.Context, msg *core.Message) error {
	content, err := sb.options.Converter.To(msg.Content)
	if err != nil {
		return fmt.Errorf("serializing message content: %w", err)
	}

	status := msg.Status
	if status == "" {
		status = core.MessageStatusPending
	}

	if _, err := sb.db.ExecContext(
		ctx,
		"INSERT INTO `messages` (id, sender, recipient, kind, subject, content, `read`, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		msg.ID,
		string(msg.From),
		string(msg.To),
		string(msg.Kind),
		msg.Subject,
		[]byte(content),
		msg.Read,
		string(status),
		msg.CreatedAt,
	); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	return nil
}

func (sb *sqliteBackend) GetMessage(ctx context.Context, id string) (*core.Message, error) {
	row := sb.db.QueryRowContext(
		ctx,
		"SELECT id, sender, recipient, kind, subject, content, `read`, status, failure_reason, created_at FROM `messages` WHERE id = ?",
		id,
	)

	msg, err := sb.scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, backend.ErrMessageNotFound
	}

	return msg, err
}

func (sb *sqliteBackend) UnreadMessages(ctx context.Context, recipient core.Role) ([]*core.Message, error) {
	rows, err := sb.db.QueryContext(
		ctx,
		"SELECT id, sender, recipient, kind, subject, content, `read`, status, failure_reason, created_at FROM `messages` WHERE recipient = ? AND `read` = 0 ORDER BY created_at ASC, id ASC",
		string(recipient),
	)
	if err != nil {
		return nil, fmt.Errorf("querying unread messages: %w", err)
	}
	defer rows.Close()

	return sb.collectMessages(rows)
}

func (sb *sqliteBackend) UnreadBroadcasts(ctx context.Context, limit int) ([]*core.Message, error) {
	// Broadcast rows are shared across roles and never marked read, so the
	// unread set only grows. Select the newest rows so fresh broadcasts stay
	// reachable once more than limit have accumulated.
	rows, err := sb.db.QueryContext(
		ctx,
		"SELECT id, sender, recipient, kind, subject, content, `read`, status, failure_reason, created_at FROM `messages` WHERE recipient = ? AND `read` = 0 ORDER BY created_at DESC, id DESC LIMIT ?",
		string(core.RoleAll),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying unread broadcasts: %w", err)
	}
	defer rows.Close()

	msgs, err := sb.collectMessages(rows)
	if err != nil {
		return nil, err
	}

	// Callers consume oldest first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	return msgs, nil
}

func (sb *sqliteBackend) MarkProcessed(ctx context.Context, id string) error {
	return sb.mark(ctx, id, core.MessageStatusProcessed, nil)
}

func (sb *sqliteBackend) MarkFailed(ctx context.Context, id string, reason string) error {
	return sb.mark(ctx, id, core.MessageStatusFailed, &reason)
}

func (sb *sqliteBackend) mark(ctx context.Context, id string, status core.MessageStatus, reason *string) error {
	res, err := sb.db.ExecContext(
		ctx,
		"UPDATE `messages` SET `read` = 1, status = ?, failure_reason = ? WHERE id = ?",
		string(status),
		reason,
		id,
	)
	if err != nil {
		return fmt.Errorf("updating message status: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return backend.ErrMessageNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (sb *sqliteBackend) scanMessage(row rowScanner) (*core.Message, error) {
	var msg core.Message
	var sender, recipient, kind, status string
	var content []byte
	var failureReason sql.NullString

	if err := row.Scan(
		&msg.ID,
		&sender,
		&recipient,
		&kind,
		&msg.Subject,
		&content,
		&msg.Read,
		&status,
		&failureReason,
		&msg.CreatedAt,
	); err != nil {
		return nil, err
	}

	msg.From = core.Role(sender)
	msg.To = core.Role(recipient)
	msg.Kind = core.Kind(kind)
	msg.Status = core.MessageStatus(status)
	msg.FailureReason = failureReason.String

	if len(content) > 0 {
		if err := sb.options.Converter.From(content, &msg.Content); err != nil {
			return nil, fmt.Errorf("deserializing message content: %w", err)
		}
	}

	return &msg, nil
}

func (sb *sqliteBackend) collectMessages(rows *sql.Rows) ([]*core.Message, error) {
	var msgs []*core.Message
	for rows.Next() {
		msg, err := sb.scanMessage(rows)
		if err != nil {
			return nil, err
		}

		msgs = append(msgs, msg)
	}

	return msgs, rows.Err()
}
