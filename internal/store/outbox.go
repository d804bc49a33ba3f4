package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"smsrelay/api/internal/filter"
	"smsrelay/api/internal/outbox"
)

const outboxColumns = `id, recipient, content, device_id, status, created_at, sent_at`

func scanOutbox(row rowScanner) (OutboxEntry, error) {
	var (
		e      OutboxEntry
		sentAt sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.Recipient, &e.Content, &e.DeviceID, &e.Status, &e.CreatedAt, &sentAt); err != nil {
		return OutboxEntry{}, err
	}
	e.SentAt = timePtr(sentAt)
	return e, nil
}

func collectOutbox(rows *sql.Rows) ([]OutboxEntry, error) {
	defer rows.Close()
	out := make([]OutboxEntry, 0)
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CreateOutbound queues a message for the device and mirrors it into the
// timeline. Both rows are written in one transaction.
func (s *SQLStore) CreateOutbound(ctx context.Context, recipient, content, deviceID string) (OutboxEntry, Message, error) {
	now := s.timestamp()
	entry := OutboxEntry{
		Recipient: recipient,
		Content:   content,
		DeviceID:  deviceID,
		Status:    outbox.StatusPending,
		CreatedAt: now,
	}
	mirror := Message{
		Counterpart: recipient,
		Content:     content,
		Timestamp:   now,
		DeviceID:    deviceID,
		Direction:   DirectionOutbound,
		Status:      MessagePending,
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		insertEntry := s.dialect.rebind(`
			INSERT INTO outbox (recipient, content, device_id, status, created_at)
			VALUES (?, ?, ?, ?, ?)
			RETURNING id
		`)
		if err := tx.QueryRowContext(ctx, insertEntry, entry.Recipient, entry.Content, entry.DeviceID, entry.Status, entry.CreatedAt).Scan(&entry.ID); err != nil {
			return fmt.Errorf("insert outbox entry: %w", err)
		}

		insertMirror := s.dialect.rebind(`
			INSERT INTO messages (counterpart, content, occurred_at, device_id, direction, status, outbox_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id
		`)
		if err := tx.QueryRowContext(ctx, insertMirror,
			mirror.Counterpart, mirror.Content, mirror.Timestamp, mirror.DeviceID, mirror.Direction, mirror.Status, entry.ID, now,
		).Scan(&mirror.ID); err != nil {
			return fmt.Errorf("insert mirror message: %w", err)
		}
		return nil
	})
	if err != nil {
		return OutboxEntry{}, Message{}, err
	}
	id := entry.ID
	mirror.OutboxID = &id
	return entry, mirror, nil
}

// ListPending returns the device's undelivered entries, oldest first.
func (s *SQLStore) ListPending(ctx context.Context, deviceID string) ([]OutboxEntry, error) {
	query := s.dialect.rebind(`
		SELECT ` + outboxColumns + `
		FROM outbox
		WHERE device_id = ? AND status = ?
		ORDER BY created_at ASC, id ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, deviceID, outbox.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return collectOutbox(rows)
}

func (s *SQLStore) GetOutbox(ctx context.Context, id int64) (OutboxEntry, error) {
	query := s.dialect.rebind(`SELECT ` + outboxColumns + ` FROM outbox WHERE id = ?`)
	entry, err := scanOutbox(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return OutboxEntry{}, ErrNotFound
	}
	if err != nil {
		return OutboxEntry{}, fmt.Errorf("get outbox entry: %w", err)
	}
	return entry, nil
}

// ListOutbox pages through queued and finished entries visible under f,
// newest first.
func (s *SQLStore) ListOutbox(ctx context.Context, f filter.Filter, limit, offset int) ([]OutboxEntry, error) {
	clause, args := s.filterClause(f, "content", "recipient")
	query := s.dialect.rebind(`
		SELECT ` + outboxColumns + `
		FROM outbox
		WHERE 1=1` + clause + `
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`)
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	return collectOutbox(rows)
}

// ReportResult is the state of an entry and its mirror after a device report.
type ReportResult struct {
	Entry   OutboxEntry
	Mirror  Message
	Changed bool
}

// ReportOutbox applies a terminal status reported by the device. The entry
// and its mirror message are updated together; a repeated identical report
// leaves both untouched and returns Changed=false.
func (s *SQLStore) ReportOutbox(ctx context.Context, id int64, status outbox.Status, at time.Time) (ReportResult, error) {
	var result ReportResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		selectEntry := s.dialect.rebind(`SELECT ` + outboxColumns + ` FROM outbox WHERE id = ?` + s.dialect.forUpdate())
		entry, err := scanOutbox(tx.QueryRowContext(ctx, selectEntry, id))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load outbox entry: %w", err)
		}

		changed, err := outbox.Transition(entry.Status, status)
		if err != nil {
			return err
		}
		if changed {
			sentAt := at.UTC()
			updateEntry := s.dialect.rebind(`UPDATE outbox SET status = ?, sent_at = ? WHERE id = ?`)
			if _, err := tx.ExecContext(ctx, updateEntry, status, sentAt, id); err != nil {
				return fmt.Errorf("update outbox entry: %w", err)
			}
			updateMirror := s.dialect.rebind(`UPDATE messages SET status = ? WHERE outbox_id = ?`)
			res, err := tx.ExecContext(ctx, updateMirror, MessageStatus(status), id)
			if err != nil {
				return fmt.Errorf("update mirror message: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("update mirror message: %w", err)
			}
			if n != 1 {
				return fmt.Errorf("outbox entry %d: %w", id, ErrMirrorMissing)
			}
			entry.Status = status
			entry.SentAt = &sentAt
		}

		selectMirror := s.dialect.rebind(`SELECT ` + messageColumns + ` FROM messages WHERE outbox_id = ?`)
		mirror, err := scanMessage(tx.QueryRowContext(ctx, selectMirror, id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("outbox entry %d: %w", id, ErrMirrorMissing)
		}
		if err != nil {
			return fmt.Errorf("load mirror message: %w", err)
		}

		result = ReportResult{Entry: entry, Mirror: mirror, Changed: changed}
		return nil
	})
	if err != nil {
		return ReportResult{}, err
	}
	return result, nil
}
