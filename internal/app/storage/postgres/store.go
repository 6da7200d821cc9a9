// Package postgres implements storage.Store against PostgreSQL, using
// sqlx for multi-row reads and database/sql transactions for every
// multi-statement invariant (claim, usage+rollup, merchant token writes).
package postgres

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	appcrypto "github.com/riverbend/recoveryengine/internal/app/crypto"
	"github.com/riverbend/recoveryengine/internal/app/storage"
)

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	db     *sqlx.DB
	cipher appcrypto.Cipher
}

var _ storage.Store = (*Store)(nil)

// New wraps an existing *sql.DB. cipher encrypts/decrypts merchant OAuth
// tokens at rest; pass appcrypto.NoopCipher{} to store them in the clear
// (development only).
func New(db *sql.DB, cipher appcrypto.Cipher) *Store {
	if cipher == nil {
		cipher = appcrypto.NoopCipher{}
	}
	return &Store{db: sqlx.NewDb(db, "postgres"), cipher: cipher}
}

// nullTime converts the zero time.Time to a SQL NULL.
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// nullTimePtr converts a *time.Time (nil meaning unset) to a SQL NULL.
func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// fromNullTime converts a SQL NULL-able time back to a *time.Time.
func fromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// nullString converts an empty string to a SQL NULL, matching the unique
// constraints on merchants.auth_user_id / connected_account_id / platform_customer_id.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
