package authz

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed schema.sql
var schemaSQL string

const (
	selectPermissionsSQL = `SELECT permissions FROM permissions WHERE user_id = $1`
	claimPermissionsSQL  = `INSERT INTO permissions (user_id, permissions, updated_at)
VALUES ($1, '[]'::jsonb, now())
ON CONFLICT (user_id) DO NOTHING`
	lockPermissionsSQL   = `SELECT permissions FROM permissions WHERE user_id = $1 FOR UPDATE`
	upsertPermissionsSQL = `INSERT INTO permissions (user_id, permissions, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (user_id) DO UPDATE SET permissions = EXCLUDED.permissions, updated_at = now()`
)

// OpenPostgres opens a pooled connection through the pgx stdlib driver and
// verifies it with a ping.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// SQLStore keeps permission lists as JSON arrays in the permissions table.
// Every call borrows a pooled connection for the duration of the statement
// or transaction only.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps db.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate creates the permissions table if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate permissions: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, userID string) ([]string, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, selectPermissionsSQL, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return decodePermissions(raw)
}

func (s *SQLStore) Put(ctx context.Context, userID string, permissions []string) error {
	raw, err := encodePermissions(permissions)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, upsertPermissionsSQL, userID, raw); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Update locks the user's row for the duration of fn. A missing row is first
// claimed with an empty placeholder, so a concurrent writer for the same user
// blocks on the insert until this transaction ends and then reads the
// committed list. A rollback removes the placeholder again.
func (s *SQLStore) Update(ctx context.Context, userID string, fn UpdateFunc) (result []string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	claim, err := tx.ExecContext(ctx, claimPermissionsSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	created, err := claim.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	exists := created == 0

	var (
		raw     []byte
		current []string
	)
	if err = tx.QueryRowContext(ctx, lockPermissionsSQL, userID).Scan(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if exists {
		if current, err = decodePermissions(raw); err != nil {
			return nil, err
		}
	}

	next, err := fn(current, exists)
	if err != nil {
		return nil, err
	}
	encoded, err := encodePermissions(next)
	if err != nil {
		return nil, err
	}
	if _, err = tx.ExecContext(ctx, upsertPermissionsSQL, userID, encoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return next, nil
}

func encodePermissions(perms []string) ([]byte, error) {
	if perms == nil {
		perms = []string{}
	}
	return json.Marshal(perms)
}

func decodePermissions(raw []byte) ([]string, error) {
	var perms []string
	if len(raw) == 0 {
		return []string{}, nil
	}
	if err := json.Unmarshal(raw, &perms); err != nil {
		return nil, fmt.Errorf("decode permissions: %w", err)
	}
	if perms == nil {
		perms = []string{}
	}
	return perms, nil
}
