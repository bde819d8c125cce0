package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/invoicator-app/invoicator/internal/common"
)

const credentialColumns = `provider, ciphertext, key_version, source, valid,
	last_validated, created_at, updated_at`

func (s *sqlStore) UpsertCredential(ctx context.Context, cred *Credential) error {
	now := time.Now().UTC()
	_, err := s.exec(ctx, `INSERT INTO credentials (`+credentialColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider) DO UPDATE SET
			ciphertext = excluded.ciphertext,
			key_version = excluded.key_version,
			source = excluded.source,
			valid = excluded.valid,
			last_validated = NULL,
			updated_at = excluded.updated_at`,
		cred.Provider, cred.Ciphertext, cred.KeyVersion, cred.Source,
		nullBool(cred.Valid), nullTime(cred.LastValidated), now, now)
	if err != nil {
		return common.WrapError(err, "storing credential")
	}
	s.log.Info("store.credential_stored", "provider", cred.Provider, "key_version", cred.KeyVersion)
	return nil
}

func (s *sqlStore) GetCredential(ctx context.Context, provider string) (*Credential, error) {
	row := s.queryRow(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE provider = ?`, provider)
	cred, err := scanCredential(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError("CREDENTIAL_NOT_FOUND",
			"no credential stored for "+provider, common.ErrCredentialMissing)
	}
	return cred, err
}

func (s *sqlStore) ListCredentials(ctx context.Context) ([]*Credential, error) {
	rows, err := s.query(ctx, `SELECT `+credentialColumns+` FROM credentials ORDER BY provider`)
	if err != nil {
		return nil, common.WrapError(err, "listing credentials")
	}
	defer rows.Close()

	var creds []*Credential
	for rows.Next() {
		cred, err := scanCredential(rows.Scan)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

func scanCredential(scan func(...any) error) (*Credential, error) {
	var (
		cred          Credential
		valid         sql.NullBool
		lastValidated sql.NullTime
	)
	err := scan(&cred.Provider, &cred.Ciphertext, &cred.KeyVersion, &cred.Source,
		&valid, &lastValidated, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, common.WrapError(err, "reading credential")
	}
	if valid.Valid {
		v := valid.Bool
		cred.Valid = &v
	}
	if lastValidated.Valid {
		t := lastValidated.Time
		cred.LastValidated = &t
	}
	return &cred, nil
}

func (s *sqlStore) SetCredentialValidity(ctx context.Context, provider string, valid bool) error {
	now := time.Now().UTC()
	res, err := s.exec(ctx, `UPDATE credentials
		SET valid = ?, last_validated = ?, updated_at = ? WHERE provider = ?`,
		valid, now, now, provider)
	if err != nil {
		return common.WrapError(err, "updating credential validity")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.NewAppError("CREDENTIAL_NOT_FOUND",
			"no credential stored for "+provider, common.ErrCredentialMissing)
	}
	s.log.Info("store.credential_validated", "provider", provider, "valid", valid)
	return nil
}

func (s *sqlStore) DeleteCredential(ctx context.Context, provider string) error {
	res, err := s.exec(ctx, `DELETE FROM credentials WHERE provider = ?`, provider)
	if err != nil {
		return common.WrapError(err, "deleting credential")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.NewAppError("CREDENTIAL_NOT_FOUND",
			"no credential stored for "+provider, common.ErrCredentialMissing)
	}
	s.log.Info("store.credential_deleted", "provider", provider)
	return nil
}

func (s *sqlStore) RewrapCredentials(ctx context.Context, ciphertexts map[string][]byte, keyVersion int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return common.WrapError(err, "starting rewrap transaction")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	query := s.rebind(`UPDATE credentials SET ciphertext = ?, key_version = ?, updated_at = ? WHERE provider = ?`)
	for provider, ct := range ciphertexts {
		if _, err := tx.ExecContext(ctx, query, ct, keyVersion, now, provider); err != nil {
			return common.WrapError(err, "rewrapping credential "+provider)
		}
	}
	if err := tx.Commit(); err != nil {
		return common.WrapError(err, "committing rewrap")
	}
	s.log.Info("store.credentials_rewrapped", "count", len(ciphertexts), "key_version", keyVersion)
	return nil
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}
