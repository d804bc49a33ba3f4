package authpw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"smsrelay/api/internal/filter"
	"smsrelay/api/internal/store"
)

// SubAccountInput describes a sub-account to create or update. On update an
// empty Password keeps the current one.
type SubAccountInput struct {
	Password    string
	FilterType  string
	FilterValue string
	Description string
}

func (in SubAccountInput) normalize() (SubAccountInput, error) {
	in.FilterType = strings.TrimSpace(in.FilterType)
	if in.FilterType == "" {
		in.FilterType = string(filter.KindAll)
	}
	in.Description = strings.TrimSpace(in.Description)

	switch filter.Kind(in.FilterType) {
	case filter.KindAll:
		in.FilterValue = ""
	case filter.KindContentContains, filter.KindSenderMatch:
		if in.FilterValue == "" {
			return in, invalid("filter value is required for %s", in.FilterType)
		}
	}
	return in, nil
}

func (s *Service) ListSubAccounts(ctx context.Context) ([]store.SubAccount, error) {
	accounts, err := s.store.ListSubAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sub-accounts: %w", err)
	}
	return accounts, nil
}

// CreateSubAccount stores a new sub-account. The password must not match any
// other viewer password.
func (s *Service) CreateSubAccount(ctx context.Context, in SubAccountInput) (store.SubAccount, error) {
	if len(in.Password) < MinPasswordLength {
		return store.SubAccount{}, invalid("password must be at least %d characters", MinPasswordLength)
	}
	in, err := in.normalize()
	if err != nil {
		return store.SubAccount{}, err
	}
	if !filter.Valid(in.FilterType) {
		s.logger.Warn("sub-account created with unknown filter type", "filter_type", in.FilterType)
	}

	account, err := s.store.CreateSubAccount(ctx, store.SubAccount{
		SecretDigest: s.digest(in.Password),
		FilterType:   in.FilterType,
		FilterValue:  in.FilterValue,
		Description:  in.Description,
	})
	if errors.Is(err, store.ErrConflict) {
		return store.SubAccount{}, ErrConflict
	}
	if err != nil {
		return store.SubAccount{}, fmt.Errorf("create sub-account: %w", err)
	}
	return account, nil
}

func (s *Service) UpdateSubAccount(ctx context.Context, id int64, in SubAccountInput) (store.SubAccount, error) {
	if in.Password != "" && len(in.Password) < MinPasswordLength {
		return store.SubAccount{}, invalid("password must be at least %d characters", MinPasswordLength)
	}
	in, err := in.normalize()
	if err != nil {
		return store.SubAccount{}, err
	}

	update := store.SubAccount{
		ID:          id,
		FilterType:  in.FilterType,
		FilterValue: in.FilterValue,
		Description: in.Description,
	}
	if in.Password != "" {
		update.SecretDigest = s.digest(in.Password)
	}
	account, err := s.store.UpdateSubAccount(ctx, update)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return store.SubAccount{}, ErrNotFound
	case errors.Is(err, store.ErrConflict):
		return store.SubAccount{}, ErrConflict
	case err != nil:
		return store.SubAccount{}, fmt.Errorf("update sub-account: %w", err)
	}
	return account, nil
}

func (s *Service) DeleteSubAccount(ctx context.Context, id int64) error {
	err := s.store.DeleteSubAccount(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete sub-account: %w", err)
	}
	return nil
}
