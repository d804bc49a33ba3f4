package app

import (
	"context"
	"errors"

	"smsrelay/api/internal/authpw"
	"smsrelay/api/internal/filter"
	"smsrelay/api/internal/rbac"
	"smsrelay/api/internal/session"
	"smsrelay/api/internal/store"
)

const (
	loginViewer = "viewer"
	loginAdmin  = "admin"
)

// checkThrottle rejects clients over the failed login limit. A limiter
// error lets the attempt through.
func (s *Service) checkThrottle(ctx context.Context, kind, clientIP string) error {
	allowed, err := s.limiter.Allow(ctx, clientIP)
	if err != nil {
		s.logger.WarnContext(ctx, "login throttle unavailable", "error", err)
		return nil
	}
	if !allowed {
		loginAttemptsCounter.WithLabelValues(kind, "throttled").Inc()
		return tooManyAttempts()
	}
	return nil
}

func (s *Service) recordLogin(ctx context.Context, kind, clientIP string, loginErr error) {
	if loginErr == nil {
		loginAttemptsCounter.WithLabelValues(kind, "success").Inc()
		if err := s.limiter.Reset(ctx, clientIP); err != nil {
			s.logger.WarnContext(ctx, "login throttle reset failed", "error", err)
		}
		return
	}
	if !errors.Is(loginErr, authpw.ErrInvalidCredentials) {
		return
	}
	loginAttemptsCounter.WithLabelValues(kind, "failure").Inc()
	count, err := s.limiter.Fail(ctx, clientIP)
	if err != nil {
		s.logger.WarnContext(ctx, "login throttle update failed", "error", err)
		return
	}
	s.logger.InfoContext(ctx, "login failed", "kind", kind, "client_ip", clientIP, "failures", count)
}

func (s *Service) newSession(attrs session.Attributes) (session.Session, error) {
	sess, err := s.sessions.Create(attrs)
	if err != nil {
		return session.Session{}, err
	}
	activeSessionsGauge.Set(float64(s.sessions.Len()))
	return sess, nil
}

// Login resolves a viewer password to a session carrying its filter.
func (s *Service) Login(ctx context.Context, clientIP, password string) (session.Session, error) {
	if err := s.checkThrottle(ctx, loginViewer, clientIP); err != nil {
		return session.Session{}, err
	}
	identity, err := s.credentials.ViewerLogin(ctx, password)
	s.recordLogin(ctx, loginViewer, clientIP, err)
	if err != nil {
		return session.Session{}, s.storageFailure(ctx, "viewer login", err)
	}
	return s.newSession(session.Attributes{Filter: identity.Filter})
}

// AdminLogin resolves the admin credentials to an admin session.
func (s *Service) AdminLogin(ctx context.Context, clientIP, username, password string) (session.Session, store.AdminIdentity, error) {
	if err := s.checkThrottle(ctx, loginAdmin, clientIP); err != nil {
		return session.Session{}, store.AdminIdentity{}, err
	}
	admin, err := s.credentials.AdminLogin(ctx, username, password)
	s.recordLogin(ctx, loginAdmin, clientIP, err)
	if err != nil {
		return session.Session{}, store.AdminIdentity{}, s.storageFailure(ctx, "admin login", err)
	}
	sess, err := s.newSession(session.Attributes{Filter: filter.All(), IsAdmin: true})
	if err != nil {
		return session.Session{}, store.AdminIdentity{}, err
	}
	return sess, admin, nil
}

// Authenticate resolves a bearer token and renews its session.
func (s *Service) Authenticate(token string) (session.Session, error) {
	sess, err := s.sessions.Resolve(token)
	if err != nil {
		return session.Session{}, unauthorized()
	}
	return sess, nil
}

func (s *Service) Logout(token string) {
	s.sessions.Revoke(token)
	activeSessionsGauge.Set(float64(s.sessions.Len()))
}

func (s *Service) ChangeViewerPassword(ctx context.Context, sess session.Session, oldPassword, newPassword string) error {
	if err := s.authorize(sess, rbac.ActionRead); err != nil {
		return err
	}
	if err := s.credentials.ChangeViewerPassword(ctx, oldPassword, newPassword); err != nil {
		return s.storageFailure(ctx, "change viewer password", err)
	}
	s.logger.InfoContext(ctx, "viewer password changed")
	return nil
}

func (s *Service) AdminInitialized(ctx context.Context) (bool, error) {
	initialized, err := s.credentials.AdminInitialized(ctx)
	if err != nil {
		return false, s.storageFailure(ctx, "admin status", err)
	}
	return initialized, nil
}

func (s *Service) InitAdmin(ctx context.Context, username, password string) (store.AdminIdentity, error) {
	admin, err := s.credentials.InitAdmin(ctx, username, password)
	if err != nil {
		return store.AdminIdentity{}, s.storageFailure(ctx, "init admin", err)
	}
	s.logger.InfoContext(ctx, "admin account initialized", "username", admin.Username)
	return admin, nil
}

func (s *Service) ChangeAdminPassword(ctx context.Context, sess session.Session, username, oldPassword, newPassword string) error {
	if err := s.authorize(sess, rbac.ActionAdmin); err != nil {
		return err
	}
	if err := s.credentials.ChangeAdminPassword(ctx, username, oldPassword, newPassword); err != nil {
		return s.storageFailure(ctx, "change admin password", err)
	}
	return nil
}

func (s *Service) AdminInfo(ctx context.Context, sess session.Session) (store.AdminIdentity, error) {
	if err := s.authorize(sess, rbac.ActionAdmin); err != nil {
		return store.AdminIdentity{}, err
	}
	admin, err := s.credentials.AdminInfo(ctx)
	if err != nil {
		return store.AdminIdentity{}, s.storageFailure(ctx, "admin info", err)
	}
	return admin, nil
}

type SubAccountInput struct {
	Password    string `json:"password"`
	FilterType  string `json:"filterType"`
	FilterValue string `json:"filterValue"`
	Description string `json:"description" validate:"max=200"`
}

func (in SubAccountInput) credentials() authpw.SubAccountInput {
	return authpw.SubAccountInput{
		Password:    in.Password,
		FilterType:  in.FilterType,
		FilterValue: in.FilterValue,
		Description: in.Description,
	}
}

func (s *Service) ListSubAccounts(ctx context.Context, sess session.Session) ([]store.SubAccount, error) {
	if err := s.authorize(sess, rbac.ActionAdmin); err != nil {
		return nil, err
	}
	accounts, err := s.credentials.ListSubAccounts(ctx)
	if err != nil {
		return nil, s.storageFailure(ctx, "list sub-accounts", err)
	}
	return accounts, nil
}

func (s *Service) CreateSubAccount(ctx context.Context, sess session.Session, input SubAccountInput) (store.SubAccount, error) {
	if err := s.authorize(sess, rbac.ActionAdmin); err != nil {
		return store.SubAccount{}, err
	}
	if err := s.validateInput(input); err != nil {
		return store.SubAccount{}, err
	}
	account, err := s.credentials.CreateSubAccount(ctx, input.credentials())
	if err != nil {
		return store.SubAccount{}, s.storageFailure(ctx, "create sub-account", err)
	}
	s.logger.InfoContext(ctx, "sub-account created", "sub_account_id", account.ID, "filter_type", account.FilterType)
	return account, nil
}

func (s *Service) UpdateSubAccount(ctx context.Context, sess session.Session, id int64, input SubAccountInput) (store.SubAccount, error) {
	if err := s.authorize(sess, rbac.ActionAdmin); err != nil {
		return store.SubAccount{}, err
	}
	if err := s.validateInput(input); err != nil {
		return store.SubAccount{}, err
	}
	account, err := s.credentials.UpdateSubAccount(ctx, id, input.credentials())
	if err != nil {
		return store.SubAccount{}, s.storageFailure(ctx, "update sub-account", err)
	}
	return account, nil
}

func (s *Service) DeleteSubAccount(ctx context.Context, sess session.Session, id int64) error {
	if err := s.authorize(sess, rbac.ActionAdmin); err != nil {
		return err
	}
	if err := s.credentials.DeleteSubAccount(ctx, id); err != nil {
		return s.storageFailure(ctx, "delete sub-account", err)
	}
	s.logger.InfoContext(ctx, "sub-account deleted", "sub_account_id", id)
	return nil
}
