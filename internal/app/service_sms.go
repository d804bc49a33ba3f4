package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"smsrelay/api/internal/live"
	"smsrelay/api/internal/outbox"
	"smsrelay/api/internal/phone"
	"smsrelay/api/internal/rbac"
	"smsrelay/api/internal/session"
	"smsrelay/api/internal/store"
)

type SendInput struct {
	Recipient string `json:"recipient" validate:"required"`
	Content   string `json:"content" validate:"required"`
	DeviceID  string `json:"device_id" validate:"max=64"`
}

type ReceiveInput struct {
	Sender   string `json:"sender" validate:"required"`
	Content  string `json:"content" validate:"required"`
	Time     string `json:"time"`
	DeviceID string `json:"device_id" validate:"max=64"`
}

type ReportInput struct {
	ID     int64  `json:"id" validate:"required"`
	Status string `json:"status" validate:"required"`
}

// StatusUpdate is the payload of a send_status event.
type StatusUpdate struct {
	ID        int64         `json:"id"`
	MessageID int64         `json:"messageId"`
	Recipient string        `json:"recipient"`
	Status    outbox.Status `json:"status"`
	SentAt    *time.Time    `json:"sent_at"`
}

var deviceTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006/1/2 15:04:05",
}

// parseDeviceTime reads the timestamp a device attaches to an inbound
// message. Local layouts are interpreted in loc.
func parseDeviceTime(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	for _, layout := range deviceTimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Enqueue queues an outgoing message and its timeline mirror.
func (s *Service) Enqueue(ctx context.Context, sess session.Session, input SendInput) (store.OutboxEntry, error) {
	if err := s.authorize(sess, rbac.ActionSend); err != nil {
		return store.OutboxEntry{}, err
	}
	input.Recipient = strings.TrimSpace(input.Recipient)
	if err := s.validateInput(input); err != nil {
		return store.OutboxEntry{}, err
	}
	if strings.TrimSpace(input.Content) == "" {
		return store.OutboxEntry{}, invalidArgument("content is required")
	}
	recipient, err := phone.Normalize(input.Recipient)
	if err != nil {
		return store.OutboxEntry{}, translate(err)
	}

	deviceID := s.deviceID(input.DeviceID)
	entry, mirror, err := s.store.CreateOutbound(ctx, recipient, input.Content, deviceID)
	if err != nil {
		return store.OutboxEntry{}, s.storageFailure(ctx, "enqueue", err)
	}
	outboxEnqueuedCounter.WithLabelValues(deviceID).Inc()
	s.logger.InfoContext(ctx, "outbox entry queued", "outbox_id", entry.ID, "message_id", mirror.ID, "device_id", deviceID)

	s.publish(live.Event{
		Type:    live.EventSendQueued,
		Data:    entry,
		Subject: subjectOf(entry.Recipient, entry.Content),
	})
	return entry, nil
}

// ListPending returns the device's undelivered entries, oldest first.
func (s *Service) ListPending(ctx context.Context, deviceID string) ([]store.OutboxEntry, error) {
	entries, err := s.store.ListPending(ctx, s.deviceID(deviceID))
	if err != nil {
		return nil, s.storageFailure(ctx, "list pending", err)
	}
	return entries, nil
}

// ReportStatus applies a device's delivery report to an entry and its mirror.
func (s *Service) ReportStatus(ctx context.Context, input ReportInput) (store.OutboxEntry, error) {
	if err := s.validateInput(input); err != nil {
		return store.OutboxEntry{}, err
	}
	status, err := outbox.ParseReport(input.Status)
	if err != nil {
		outboxReportedCounter.WithLabelValues("invalid", "rejected").Inc()
		return store.OutboxEntry{}, translate(err)
	}

	result, err := s.store.ReportOutbox(ctx, input.ID, status, s.now())
	if err != nil {
		if errors.Is(err, outbox.ErrAlreadyTerminal) {
			outboxReportedCounter.WithLabelValues(string(status), "rejected").Inc()
			s.logger.WarnContext(ctx, "contradicting report for finished outbox entry", "outbox_id", input.ID, "status", status)
		}
		if errors.Is(err, store.ErrNotFound) {
			return store.OutboxEntry{}, notFound("Outbox entry not found")
		}
		return store.OutboxEntry{}, s.storageFailure(ctx, "report status", err)
	}
	if !result.Changed {
		outboxReportedCounter.WithLabelValues(string(status), "repeated").Inc()
		return result.Entry, nil
	}

	outboxReportedCounter.WithLabelValues(string(status), "applied").Inc()
	s.logger.InfoContext(ctx, "outbox entry reported", "outbox_id", result.Entry.ID, "status", status)
	s.publish(live.Event{
		Type: live.EventSendStatus,
		Data: StatusUpdate{
			ID:        result.Entry.ID,
			MessageID: result.Mirror.ID,
			Recipient: result.Entry.Recipient,
			Status:    result.Entry.Status,
			SentAt:    result.Entry.SentAt,
		},
		Subject: subjectOf(result.Entry.Recipient, result.Entry.Content),
	})
	return result.Entry, nil
}

// Receive stores a message the device received. The sender is stored as
// given by the carrier.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (store.Message, error) {
	if err := s.validateInput(input); err != nil {
		return store.Message{}, err
	}

	occurredAt, ok := parseDeviceTime(input.Time, s.location)
	if !ok {
		if input.Time != "" {
			s.logger.WarnContext(ctx, "unparsable device time, using server time", "time", input.Time)
		}
		occurredAt = s.now()
	}

	deviceID := s.deviceID(input.DeviceID)
	msg, err := s.store.InsertInbound(ctx, input.Sender, input.Content, deviceID, occurredAt)
	if err != nil {
		return store.Message{}, s.storageFailure(ctx, "receive", err)
	}
	inboundReceivedCounter.WithLabelValues(deviceID).Inc()
	s.logger.InfoContext(ctx, "inbound message stored", "message_id", msg.ID, "device_id", deviceID)

	s.publish(live.Event{
		Type:    live.EventNewMessage,
		Data:    msg,
		Subject: subjectOf(msg.Counterpart, msg.Content),
	})
	return msg, nil
}

func (s *Service) ListConversations(ctx context.Context, sess session.Session) ([]store.ConversationSummary, error) {
	if err := s.authorize(sess, rbac.ActionRead); err != nil {
		return nil, err
	}
	items, err := s.store.ListConversations(ctx, sess.Filter)
	if err != nil {
		return nil, s.storageFailure(ctx, "list conversations", err)
	}
	return items, nil
}

func (s *Service) ListThread(ctx context.Context, sess session.Session, counterpart string) ([]store.Message, error) {
	if err := s.authorize(sess, rbac.ActionRead); err != nil {
		return nil, err
	}
	counterpart = strings.TrimSpace(counterpart)
	if counterpart == "" {
		return nil, invalidArgument("phone is required")
	}
	items, err := s.store.ListThread(ctx, counterpart, sess.Filter)
	if err != nil {
		return nil, s.storageFailure(ctx, "list thread", err)
	}
	return items, nil
}

func (s *Service) ListMessages(ctx context.Context, sess session.Session, limit, offset int) ([]store.Message, error) {
	if err := s.authorize(sess, rbac.ActionRead); err != nil {
		return nil, err
	}
	limit, offset, err := normalizePage(limit, offset)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListMessages(ctx, sess.Filter, limit, offset)
	if err != nil {
		return nil, s.storageFailure(ctx, "list messages", err)
	}
	return items, nil
}

func (s *Service) ListOutbox(ctx context.Context, sess session.Session, limit, offset int) ([]store.OutboxEntry, error) {
	if err := s.authorize(sess, rbac.ActionRead); err != nil {
		return nil, err
	}
	limit, offset, err := normalizePage(limit, offset)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListOutbox(ctx, sess.Filter, limit, offset)
	if err != nil {
		return nil, s.storageFailure(ctx, "list outbox", err)
	}
	return items, nil
}
