package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"smsrelay/api/internal/filter"
)

const messageColumns = `id, counterpart, content, occurred_at, device_id, direction, status, outbox_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (Message, error) {
	var (
		m        Message
		outboxID sql.NullInt64
	)
	if err := row.Scan(&m.ID, &m.Counterpart, &m.Content, &m.Timestamp, &m.DeviceID, &m.Direction, &m.Status, &outboxID); err != nil {
		return Message{}, err
	}
	m.OutboxID = int64Ptr(outboxID)
	return m, nil
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	defer rows.Close()
	out := make([]Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertInbound stores a message received by the device.
func (s *SQLStore) InsertInbound(ctx context.Context, sender, content, deviceID string, occurredAt time.Time) (Message, error) {
	msg := Message{
		Counterpart: sender,
		Content:     content,
		Timestamp:   occurredAt.UTC(),
		DeviceID:    deviceID,
		Direction:   DirectionInbound,
		Status:      MessageReceived,
	}
	query := s.dialect.rebind(`
		INSERT INTO messages (counterpart, content, occurred_at, device_id, direction, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)
	err := s.db.QueryRowContext(ctx, query,
		msg.Counterpart, msg.Content, msg.Timestamp, msg.DeviceID, msg.Direction, msg.Status, s.timestamp(),
	).Scan(&msg.ID)
	if err != nil {
		return Message{}, fmt.Errorf("insert inbound message: %w", err)
	}
	return msg, nil
}

func (s *SQLStore) GetMessage(ctx context.Context, id int64) (Message, error) {
	query := s.dialect.rebind(`SELECT ` + messageColumns + ` FROM messages WHERE id = ?`)
	m, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

// ListConversations returns one summary per counterpart, most recent first.
// The latest message and the count only consider rows visible under f.
func (s *SQLStore) ListConversations(ctx context.Context, f filter.Filter) ([]ConversationSummary, error) {
	clause, args := s.filterClause(f, "content", "counterpart")
	query := s.dialect.rebind(`
		SELECT m.counterpart, m.content, m.occurred_at, m.direction, c.message_count
		FROM messages m
		JOIN (
			SELECT counterpart, MAX(id) AS last_id, COUNT(*) AS message_count
			FROM messages
			WHERE 1=1` + clause + `
			GROUP BY counterpart
		) c ON c.last_id = m.id
		ORDER BY m.occurred_at DESC, m.id DESC
	`)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := make([]ConversationSummary, 0)
	for rows.Next() {
		var (
			item      ConversationSummary
			direction Direction
		)
		if err := rows.Scan(&item.Phone, &item.LastMessage, &item.LastTime, &direction, &item.MessageCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		item.IsOutgoing = direction == DirectionOutbound
		out = append(out, item)
	}
	return out, rows.Err()
}

// ListThread returns the visible messages exchanged with counterpart, oldest first.
func (s *SQLStore) ListThread(ctx context.Context, counterpart string, f filter.Filter) ([]Message, error) {
	clause, args := s.filterClause(f, "content", "counterpart")
	query := s.dialect.rebind(`
		SELECT ` + messageColumns + `
		FROM messages
		WHERE counterpart = ?` + clause + `
		ORDER BY occurred_at ASC, id ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, append([]any{counterpart}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("list thread: %w", err)
	}
	return collectMessages(rows)
}

// ListMessages pages through the visible timeline, newest first.
func (s *SQLStore) ListMessages(ctx context.Context, f filter.Filter, limit, offset int) ([]Message, error) {
	clause, args := s.filterClause(f, "content", "counterpart")
	query := s.dialect.rebind(`
		SELECT ` + messageColumns + `
		FROM messages
		WHERE 1=1` + clause + `
		ORDER BY occurred_at DESC, id DESC
		LIMIT ? OFFSET ?
	`)
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return collectMessages(rows)
}
