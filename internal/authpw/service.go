// Package authpw resolves viewer and admin passwords to identities and
// manages the credentials behind them.
//
// Viewer secrets (the legacy shared password and every sub-account password)
// are stored as peppered HMAC digests so they can be looked up and kept
// unique by the store. The admin password is a bcrypt hash.
package authpw

import (
	"context"
	"crypto/hmac"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"smsrelay/api/internal/auth"
	"smsrelay/api/internal/filter"
	"smsrelay/api/internal/store"
)

const (
	MinAdminUsernameLength = 3
	MinPasswordLength      = 4
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAlreadyInitialized = errors.New("admin already initialized")
	ErrConflict           = errors.New("password already in use")
	ErrNotFound           = errors.New("not found")
)

// ValidationError carries a message that is safe to show to the caller.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// CredentialStore is the persistence the service needs.
type CredentialStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	EnsureSetting(ctx context.Context, key, value string) (bool, error)
	SetViewerSecretDigest(ctx context.Context, digest string) error
	GetAdmin(ctx context.Context) (store.AdminIdentity, error)
	CreateAdmin(ctx context.Context, username, passwordHash string) (store.AdminIdentity, error)
	UpdateAdminPassword(ctx context.Context, passwordHash string) error
	ListSubAccounts(ctx context.Context) ([]store.SubAccount, error)
	GetSubAccountByDigest(ctx context.Context, digest string) (store.SubAccount, error)
	CreateSubAccount(ctx context.Context, account store.SubAccount) (store.SubAccount, error)
	UpdateSubAccount(ctx context.Context, account store.SubAccount) (store.SubAccount, error)
	DeleteSubAccount(ctx context.Context, id int64) error
}

// Options configures a Service.
type Options struct {
	// Pepper keys the viewer secret digests. Changing it invalidates every
	// stored viewer password.
	Pepper     string
	BcryptCost int
	Logger     *slog.Logger
}

// Service authenticates viewers and admins.
type Service struct {
	store  CredentialStore
	pepper []byte
	cost   int
	logger *slog.Logger
}

// NewService creates a new credential service
func NewService(credentials CredentialStore, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  credentials,
		pepper: []byte(opts.Pepper),
		cost:   opts.BcryptCost,
		logger: logger,
	}
}

func (s *Service) digest(secret string) string {
	return auth.SecretDigest(s.pepper, secret)
}

// ViewerIdentity is the result of a successful viewer login.
type ViewerIdentity struct {
	Filter filter.Filter
	// SubAccountID is nil for the legacy shared password.
	SubAccountID *int64
}

// EnsureViewerPassword seeds the legacy viewer password when none is stored.
// It reports whether a value was written.
func (s *Service) EnsureViewerPassword(ctx context.Context, password string) (bool, error) {
	if len(password) < MinPasswordLength {
		return false, invalid("default viewer password must be at least %d characters", MinPasswordLength)
	}
	seeded, err := s.store.EnsureSetting(ctx, store.SettingViewerSecret, s.digest(password))
	if err != nil {
		return false, fmt.Errorf("seed viewer password: %w", err)
	}
	return seeded, nil
}

// ViewerLogin matches password against the sub-accounts first and the legacy
// shared password second.
func (s *Service) ViewerLogin(ctx context.Context, password string) (ViewerIdentity, error) {
	if password == "" {
		return ViewerIdentity{}, ErrInvalidCredentials
	}
	digest := s.digest(password)

	account, err := s.store.GetSubAccountByDigest(ctx, digest)
	switch {
	case err == nil:
		id := account.ID
		return ViewerIdentity{Filter: s.resolveFilter(account), SubAccountID: &id}, nil
	case !errors.Is(err, store.ErrNotFound):
		return ViewerIdentity{}, fmt.Errorf("lookup sub-account: %w", err)
	}

	ok, err := s.matchesLegacy(ctx, digest)
	if err != nil {
		return ViewerIdentity{}, err
	}
	if !ok {
		return ViewerIdentity{}, ErrInvalidCredentials
	}
	return ViewerIdentity{Filter: filter.All()}, nil
}

func (s *Service) resolveFilter(account store.SubAccount) filter.Filter {
	f, known := filter.Resolve(account.FilterType, account.FilterValue)
	if !known {
		s.logger.Warn("unknown sub-account filter type, granting full view",
			"sub_account_id", account.ID,
			"filter_type", account.FilterType,
		)
	}
	return f
}

func (s *Service) matchesLegacy(ctx context.Context, digest string) (bool, error) {
	stored, err := s.store.GetSetting(ctx, store.SettingViewerSecret)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read viewer password: %w", err)
	}
	return hmac.Equal([]byte(stored), []byte(digest)), nil
}

// ChangeViewerPassword replaces the legacy shared password.
func (s *Service) ChangeViewerPassword(ctx context.Context, oldPassword, newPassword string) error {
	if oldPassword == "" || newPassword == "" {
		return invalid("old and new password are required")
	}
	if len(newPassword) < MinPasswordLength {
		return invalid("new password must be at least %d characters", MinPasswordLength)
	}
	ok, err := s.matchesLegacy(ctx, s.digest(oldPassword))
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}
	if err := s.store.SetViewerSecretDigest(ctx, s.digest(newPassword)); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrConflict
		}
		return fmt.Errorf("set viewer password: %w", err)
	}
	return nil
}

// AdminInitialized reports whether the admin identity exists.
func (s *Service) AdminInitialized(ctx context.Context) (bool, error) {
	_, err := s.store.GetAdmin(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read admin: %w", err)
	}
	return true, nil
}

// InitAdmin creates the admin identity. It succeeds at most once.
func (s *Service) InitAdmin(ctx context.Context, username, password string) (store.AdminIdentity, error) {
	initialized, err := s.AdminInitialized(ctx)
	if err != nil {
		return store.AdminIdentity{}, err
	}
	if initialized {
		return store.AdminIdentity{}, ErrAlreadyInitialized
	}

	username = strings.TrimSpace(username)
	if len(username) < MinAdminUsernameLength {
		return store.AdminIdentity{}, invalid("username must be at least %d characters", MinAdminUsernameLength)
	}
	if len(password) < MinPasswordLength {
		return store.AdminIdentity{}, invalid("password must be at least %d characters", MinPasswordLength)
	}

	hash, err := auth.HashPassword(password, s.cost)
	if err != nil {
		return store.AdminIdentity{}, err
	}
	admin, err := s.store.CreateAdmin(ctx, username, hash)
	if errors.Is(err, store.ErrExists) {
		return store.AdminIdentity{}, ErrAlreadyInitialized
	}
	if err != nil {
		return store.AdminIdentity{}, fmt.Errorf("create admin: %w", err)
	}
	return admin, nil
}

// AdminLogin checks username and password against the admin identity.
func (s *Service) AdminLogin(ctx context.Context, username, password string) (store.AdminIdentity, error) {
	if username == "" || password == "" {
		return store.AdminIdentity{}, ErrInvalidCredentials
	}
	admin, err := s.store.GetAdmin(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return store.AdminIdentity{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.AdminIdentity{}, fmt.Errorf("read admin: %w", err)
	}
	if !hmac.Equal([]byte(admin.Username), []byte(strings.TrimSpace(username))) {
		return store.AdminIdentity{}, ErrInvalidCredentials
	}
	if err := auth.ComparePassword(admin.PasswordHash, password); err != nil {
		return store.AdminIdentity{}, ErrInvalidCredentials
	}
	return admin, nil
}

// ChangeAdminPassword re-authenticates the admin before storing a new hash.
func (s *Service) ChangeAdminPassword(ctx context.Context, username, oldPassword, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return invalid("new password must be at least %d characters", MinPasswordLength)
	}
	if _, err := s.AdminLogin(ctx, username, oldPassword); err != nil {
		return err
	}
	hash, err := auth.HashPassword(newPassword, s.cost)
	if err != nil {
		return err
	}
	if err := s.store.UpdateAdminPassword(ctx, hash); err != nil {
		return fmt.Errorf("update admin password: %w", err)
	}
	return nil
}

// AdminInfo returns the admin identity.
func (s *Service) AdminInfo(ctx context.Context) (store.AdminIdentity, error) {
	admin, err := s.store.GetAdmin(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return store.AdminIdentity{}, ErrNotFound
	}
	if err != nil {
		return store.AdminIdentity{}, fmt.Errorf("read admin: %w", err)
	}
	return admin, nil
}
