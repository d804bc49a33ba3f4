package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (s *SQLStore) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT value FROM settings WHERE key = ?`), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, nil
}

// EnsureSetting stores value under key unless the key already has a value.
func (s *SQLStore) EnsureSetting(ctx context.Context, key, value string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO NOTHING
	`), key, value)
	if err != nil {
		return false, fmt.Errorf("ensure setting %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ensure setting %s: %w", key, err)
	}
	return n == 1, nil
}

// SetViewerSecretDigest replaces the legacy viewer secret. It fails with
// ErrConflict when a sub-account already uses the same secret.
func (s *SQLStore) SetViewerSecretDigest(ctx context.Context, digest string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockViewerSecrets(ctx, tx, s.dialect); err != nil {
			return err
		}
		taken, err := subAccountDigestExists(ctx, tx, s.dialect, digest)
		if err != nil {
			return err
		}
		if taken {
			return ErrConflict
		}
		if _, err := tx.ExecContext(ctx, s.dialect.rebind(`
			INSERT INTO settings (key, value) VALUES (?, ?)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value
		`), SettingViewerSecret, digest); err != nil {
			return fmt.Errorf("set viewer secret: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) GetAdmin(ctx context.Context) (AdminIdentity, error) {
	var admin AdminIdentity
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password_hash, created_at, updated_at FROM admin_identity WHERE id = 1
	`).Scan(&admin.Username, &admin.PasswordHash, &admin.CreatedAt, &admin.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return AdminIdentity{}, ErrNotFound
	}
	if err != nil {
		return AdminIdentity{}, fmt.Errorf("get admin: %w", err)
	}
	return admin, nil
}

// CreateAdmin stores the singleton admin identity. A second call fails with
// ErrExists.
func (s *SQLStore) CreateAdmin(ctx context.Context, username, passwordHash string) (AdminIdentity, error) {
	now := s.timestamp()
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		INSERT INTO admin_identity (id, username, password_hash, created_at, updated_at)
		VALUES (1, ?, ?, ?, ?)
	`), username, passwordHash, now, now)
	if isUniqueViolation(err) {
		return AdminIdentity{}, ErrExists
	}
	if err != nil {
		return AdminIdentity{}, fmt.Errorf("create admin: %w", err)
	}
	return AdminIdentity{Username: username, PasswordHash: passwordHash, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *SQLStore) UpdateAdminPassword(ctx context.Context, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`
		UPDATE admin_identity SET password_hash = ?, updated_at = ? WHERE id = 1
	`), passwordHash, s.timestamp())
	if err != nil {
		return fmt.Errorf("update admin password: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("update admin password: %w", err)
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

const subAccountColumns = `id, secret_digest, filter_type, filter_value, description, created_at, updated_at`

func scanSubAccount(row rowScanner) (SubAccount, error) {
	var a SubAccount
	err := row.Scan(&a.ID, &a.SecretDigest, &a.FilterType, &a.FilterValue, &a.Description, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (s *SQLStore) ListSubAccounts(ctx context.Context) ([]SubAccount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+subAccountColumns+` FROM sub_accounts ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sub-accounts: %w", err)
	}
	defer rows.Close()

	out := make([]SubAccount, 0)
	for rows.Next() {
		a, err := scanSubAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sub-account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetSubAccount(ctx context.Context, id int64) (SubAccount, error) {
	query := s.dialect.rebind(`SELECT ` + subAccountColumns + ` FROM sub_accounts WHERE id = ?`)
	a, err := scanSubAccount(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return SubAccount{}, ErrNotFound
	}
	if err != nil {
		return SubAccount{}, fmt.Errorf("get sub-account: %w", err)
	}
	return a, nil
}

func (s *SQLStore) GetSubAccountByDigest(ctx context.Context, digest string) (SubAccount, error) {
	query := s.dialect.rebind(`SELECT ` + subAccountColumns + ` FROM sub_accounts WHERE secret_digest = ?`)
	a, err := scanSubAccount(s.db.QueryRowContext(ctx, query, digest))
	if errors.Is(err, sql.ErrNoRows) {
		return SubAccount{}, ErrNotFound
	}
	if err != nil {
		return SubAccount{}, fmt.Errorf("get sub-account by secret: %w", err)
	}
	return a, nil
}

// CreateSubAccount inserts a sub-account. Its secret must differ from every
// other sub-account and from the legacy viewer secret, else ErrConflict.
func (s *SQLStore) CreateSubAccount(ctx context.Context, account SubAccount) (SubAccount, error) {
	now := s.timestamp()
	account.CreatedAt = now
	account.UpdatedAt = now
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := lockViewerSecrets(ctx, tx, s.dialect); err != nil {
			return err
		}
		if err := ensureNotViewerSecret(ctx, tx, s.dialect, account.SecretDigest); err != nil {
			return err
		}
		err := tx.QueryRowContext(ctx, s.dialect.rebind(`
			INSERT INTO sub_accounts (secret_digest, filter_type, filter_value, description, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			RETURNING id
		`), account.SecretDigest, account.FilterType, account.FilterValue, account.Description, now, now).Scan(&account.ID)
		if isUniqueViolation(err) {
			return ErrConflict
		}
		if err != nil {
			return fmt.Errorf("insert sub-account: %w", err)
		}
		return nil
	})
	if err != nil {
		return SubAccount{}, err
	}
	return account, nil
}

// UpdateSubAccount rewrites the filter and description of a sub-account, and
// its secret when SecretDigest is non-empty.
func (s *SQLStore) UpdateSubAccount(ctx context.Context, account SubAccount) (SubAccount, error) {
	var updated SubAccount
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		query := s.dialect.rebind(`SELECT ` + subAccountColumns + ` FROM sub_accounts WHERE id = ?` + s.dialect.forUpdate())
		current, err := scanSubAccount(tx.QueryRowContext(ctx, query, account.ID))
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load sub-account: %w", err)
		}

		if account.SecretDigest != "" && account.SecretDigest != current.SecretDigest {
			if err := lockViewerSecrets(ctx, tx, s.dialect); err != nil {
				return err
			}
			if err := ensureNotViewerSecret(ctx, tx, s.dialect, account.SecretDigest); err != nil {
				return err
			}
			current.SecretDigest = account.SecretDigest
		}
		current.FilterType = account.FilterType
		current.FilterValue = account.FilterValue
		current.Description = account.Description
		current.UpdatedAt = s.timestamp()

		_, err = tx.ExecContext(ctx, s.dialect.rebind(`
			UPDATE sub_accounts
			SET secret_digest = ?, filter_type = ?, filter_value = ?, description = ?, updated_at = ?
			WHERE id = ?
		`), current.SecretDigest, current.FilterType, current.FilterValue, current.Description, current.UpdatedAt, current.ID)
		if isUniqueViolation(err) {
			return ErrConflict
		}
		if err != nil {
			return fmt.Errorf("update sub-account: %w", err)
		}
		updated = current
		return nil
	})
	if err != nil {
		return SubAccount{}, err
	}
	return updated, nil
}

func (s *SQLStore) DeleteSubAccount(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM sub_accounts WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete sub-account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete sub-account: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// viewerSecretsLockKey names the advisory lock held while a viewer secret is
// checked against the other table and written.
const viewerSecretsLockKey int64 = 0x736d7372656c6179

// lockViewerSecrets makes the cross-table secret uniqueness check and the
// write that follows it atomic with respect to other secret writers.
func lockViewerSecrets(ctx context.Context, tx *sql.Tx, dialect Dialect) error {
	query := dialect.secretsLock()
	if query == "" {
		return nil
	}
	if _, err := tx.ExecContext(ctx, dialect.rebind(query), viewerSecretsLockKey); err != nil {
		return fmt.Errorf("lock viewer secrets: %w", err)
	}
	return nil
}

func ensureNotViewerSecret(ctx context.Context, tx *sql.Tx, dialect Dialect, digest string) error {
	var legacy string
	err := tx.QueryRowContext(ctx, dialect.rebind(`SELECT value FROM settings WHERE key = ?`), SettingViewerSecret).Scan(&legacy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read viewer secret: %w", err)
	}
	if legacy == digest {
		return ErrConflict
	}
	return nil
}

func subAccountDigestExists(ctx context.Context, tx *sql.Tx, dialect Dialect, digest string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, dialect.rebind(`
		SELECT COUNT(*) FROM sub_accounts WHERE secret_digest = ?
	`), digest).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check sub-account secrets: %w", err)
	}
	return n > 0, nil
}
