package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"smsrelay/api/internal/authpw"
	"smsrelay/api/internal/config"
	"smsrelay/api/internal/filter"
	"smsrelay/api/internal/live"
	"smsrelay/api/internal/outbox"
	"smsrelay/api/internal/rbac"
	"smsrelay/api/internal/session"
	"smsrelay/api/internal/store"
	"smsrelay/api/internal/throttle"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

type dataStore interface {
	authpw.CredentialStore
	Ping(context.Context) error
	CreateOutbound(ctx context.Context, recipient, content, deviceID string) (store.OutboxEntry, store.Message, error)
	ListPending(ctx context.Context, deviceID string) ([]store.OutboxEntry, error)
	ReportOutbox(ctx context.Context, id int64, status outbox.Status, at time.Time) (store.ReportResult, error)
	ListOutbox(ctx context.Context, f filter.Filter, limit, offset int) ([]store.OutboxEntry, error)
	InsertInbound(ctx context.Context, sender, content, deviceID string, occurredAt time.Time) (store.Message, error)
	ListConversations(ctx context.Context, f filter.Filter) ([]store.ConversationSummary, error)
	ListThread(ctx context.Context, counterpart string, f filter.Filter) ([]store.Message, error)
	ListMessages(ctx context.Context, f filter.Filter, limit, offset int) ([]store.Message, error)
}

type publisher interface {
	Publish(live.Event) int
}

// Service holds the relay's operations. Device operations take no session;
// every other operation takes the caller's resolved session.
type Service struct {
	cfg         config.Config
	store       dataStore
	credentials *authpw.Service
	sessions    *session.Registry
	hub         publisher
	limiter     throttle.Limiter
	validate    *validator.Validate
	logger      *slog.Logger
	location    *time.Location
	now         func() time.Time
}

func NewService(cfg config.Config, db dataStore, sessions *session.Registry, hub publisher, limiter throttle.Limiter, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = throttle.Disabled{}
	}
	location := time.Local
	if cfg.DeviceTimezone != "" {
		loc, err := time.LoadLocation(cfg.DeviceTimezone)
		if err != nil {
			return nil, fmt.Errorf("load device timezone: %w", err)
		}
		location = loc
	}
	return &Service{
		cfg:   cfg,
		store: db,
		credentials: authpw.NewService(db, authpw.Options{
			Pepper:     cfg.SecretPepper,
			BcryptCost: cfg.BcryptCost,
			Logger:     logger,
		}),
		sessions: sessions,
		hub:      hub,
		limiter:  limiter,
		validate: newValidator(),
		logger:   logger,
		location: location,
		now:      time.Now,
	}, nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// validateInput runs struct validation and reports the first failure.
func (s *Service) validateInput(input any) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return invalidArgument("Invalid request")
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return invalidArgument(fe.Field() + " is required")
	case "max":
		return invalidArgument(fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
	default:
		return invalidArgument(fe.Field() + " is invalid")
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap seeds the legacy viewer password on first start.
func (s *Service) Bootstrap(ctx context.Context) error {
	seeded, err := s.credentials.EnsureViewerPassword(ctx, s.cfg.DefaultViewerPassword)
	if err != nil {
		return fmt.Errorf("bootstrap viewer password: %w", err)
	}
	if seeded {
		s.logger.Warn("default viewer password seeded, change it after first login")
	}
	initialized, err := s.credentials.AdminInitialized(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap admin status: %w", err)
	}
	if !initialized {
		s.logger.Info("admin account not initialized, POST /api/admin/init to create it")
	}
	return nil
}

func (s *Service) deviceID(raw string) string {
	if id := strings.TrimSpace(raw); id != "" {
		return id
	}
	return s.cfg.DefaultDeviceID
}

func (s *Service) authorize(sess session.Session, action rbac.Action) error {
	if !rbac.Can(rbac.ForSession(sess.IsAdmin), action) {
		return forbidden()
	}
	return nil
}

// storageFailure logs err with its detail and returns it for mapError to
// surface generically.
func (s *Service) storageFailure(ctx context.Context, op string, err error) error {
	translated := translate(err)
	var domainErr *DomainError
	if errors.As(translated, &domainErr) {
		return domainErr
	}
	s.logger.ErrorContext(ctx, "storage failure", "op", op, "request_id", requestIDFromContext(ctx), "error", err)
	return err
}

func (s *Service) publish(ev live.Event) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(ev)
}

func subjectOf(counterpart, content string) *filter.Subject {
	return &filter.Subject{Counterpart: counterpart, Content: content}
}

func normalizePage(limit, offset int) (int, int, error) {
	if limit < 0 || offset < 0 {
		return 0, 0, invalidArgument("limit and offset must not be negative")
	}
	if limit == 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return limit, offset, nil
}
