// Package vault implements the secret store holding the credential chain.
//
// Values are sealed with AES-GCM under a key derived (argon2id) from the
// operator passphrase and a per-vault salt. A single version counter guards
// concurrent rotation: writers first Claim the version they read, and only
// the winner proceeds.
package vault

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/photoimport/internal/common"
	"github.com/dmitrijs2005/photoimport/internal/cryptox"
	"github.com/dmitrijs2005/photoimport/internal/dbx"
	"github.com/dmitrijs2005/photoimport/internal/filex"
	vaultmigrations "github.com/dmitrijs2005/photoimport/internal/ingest/migrations/vault"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

// Vault is a versioned key/value secret store.
type Vault interface {
	// Get returns the values present for keys and the current version.
	// Missing keys are absent from the map.
	Get(ctx context.Context, keys []string) (map[string]string, int64, error)
	// Set writes all values and bumps the version in one transaction.
	Set(ctx context.Context, values map[string]string) error
	// Claim bumps the version iff it still equals version, returning the new
	// version or common.ErrVersionConflict.
	Claim(ctx context.Context, version int64) (int64, error)
}

// SQLiteVault is the SQLite-backed Vault.
type SQLiteVault struct {
	db  *sql.DB
	key []byte
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded vault schema.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(vaultmigrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	return gooseUpContext(ctx, db, ".")
}

// Open opens (creating if needed) the vault file at path.
func Open(ctx context.Context, path string, passphrase string) (*SQLiteVault, error) {
	abs, err := filex.EnsureParentDir(path)
	if err != nil {
		return nil, fmt.Errorf("vault dir: %w", err)
	}

	db, err := sql.Open("sqlite", "file:"+abs+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}

	v, err := New(ctx, db, passphrase)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return v, nil
}

// New prepares db as a vault: runs migrations, initializes the salt on first
// use and derives the sealing key.
func New(ctx context.Context, db *sql.DB, passphrase string) (*SQLiteVault, error) {
	// SQLite allows one writer; a single connection keeps Claim/Set serialized.
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("vault migrations: %w", err)
	}

	if _, err := db.ExecContext(ctx,
		`INSERT INTO vault_meta (id, salt, version) VALUES (1, ?, 0) ON CONFLICT(id) DO NOTHING`,
		common.GenerateRandByteArray(cryptox.SaltSize)); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	var salt []byte
	if err := db.QueryRowContext(ctx, `SELECT salt FROM vault_meta WHERE id = 1`).Scan(&salt); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return &SQLiteVault{db: db, key: cryptox.DeriveKey([]byte(passphrase), salt)}, nil
}

// Close releases the underlying database.
func (v *SQLiteVault) Close() error {
	return v.db.Close()
}

func (v *SQLiteVault) Get(ctx context.Context, keys []string) (map[string]string, int64, error) {
	result := make(map[string]string, len(keys))
	var version int64

	err := dbx.WithTx(ctx, v.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := tx.QueryRowContext(ctx, `SELECT version FROM vault_meta WHERE id = 1`).Scan(&version); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if len(keys) == 0 {
			return nil
		}

		args := make([]any, len(keys))
		for i, k := range keys {
			args[i] = k
		}
		query := `SELECT key, value FROM secrets WHERE key IN (?` + strings.Repeat(", ?", len(keys)-1) + `)`

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var key string
			var sealed []byte
			if err := rows.Scan(&key, &sealed); err != nil {
				return fmt.Errorf("db error: %w", err)
			}
			plain, err := cryptox.Open(sealed, v.key)
			if err != nil {
				return fmt.Errorf("unseal %s: %w", key, err)
			}
			result[key] = string(plain)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return result, version, nil
}

func (v *SQLiteVault) Set(ctx context.Context, values map[string]string) error {
	return dbx.WithTx(ctx, v.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for key, value := range values {
			sealed, err := cryptox.Seal([]byte(value), v.key)
			if err != nil {
				return fmt.Errorf("seal %s: %w", key, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO secrets (key, value) VALUES (?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value
			`, key, sealed); err != nil {
				return fmt.Errorf("db error: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE vault_meta SET version = version + 1 WHERE id = 1`); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	})
}

func (v *SQLiteVault) Claim(ctx context.Context, version int64) (int64, error) {
	res, err := v.db.ExecContext(ctx,
		`UPDATE vault_meta SET version = version + 1 WHERE id = 1 AND version = ?`, version)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	if err := dbx.ExpectAffected(res, 1, common.ErrVersionConflict); err != nil {
		return 0, err
	}
	return version + 1, nil
}
