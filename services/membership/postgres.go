package membershipsvc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/gear-foundation/one-of-us/internal/membership"
)

// PostgresStore implements Store on the members table.
type PostgresStore struct {
	db *sqlx.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

const memberColumns = `id, address, tx_hash, joined_at`

func (s *PostgresStore) AddMember(ctx context.Context, address, txHash string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO members (address, tx_hash)
		VALUES ($1, $2)
		ON CONFLICT (address) DO NOTHING
	`, address, nullString(txHash))
	if err != nil {
		return false, fmt.Errorf("insert member: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert member: %w", err)
	}
	return rows > 0, nil
}

func (s *PostgresStore) IsMember(ctx context.Context, address string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM members WHERE address = $1)`, address)
	if err != nil {
		return false, fmt.Errorf("check member: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) GetMember(ctx context.Context, address string) (*membership.Member, error) {
	var m membership.Member
	err := s.db.GetContext(ctx, &m, `SELECT `+memberColumns+` FROM members WHERE address = $1`, address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, membership.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return &m, nil
}

func (s *PostgresStore) UpdateTxHash(ctx context.Context, address, txHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE members SET tx_hash = $1 WHERE address = $2`, txHash, address)
	if err != nil {
		return fmt.Errorf("update tx hash: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return membership.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM members`); err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, page, pageSize int) ([]membership.Member, error) {
	members := []membership.Member{}
	err := s.db.SelectContext(ctx, &members, `
		SELECT `+memberColumns+`
		FROM members
		ORDER BY joined_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, pageSize, page*pageSize)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
