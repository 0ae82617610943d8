package userstore

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/npezzotti/go-chatserver/internal/types"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	_ "github.com/lib/pq"
)

const createAccountsTable = `CREATE TABLE IF NOT EXISTS accounts (
	username TEXT PRIMARY KEY,
	password_hash TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PgStore keeps accounts in Postgres, hashed with bcrypt. It is selected
// over FileStore when database_dsn is configured.
type PgStore struct {
	db  *sql.DB
	log *zerolog.Logger
}

func NewPgStore(dsn string, logger *zerolog.Logger) (*PgStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(createAccountsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create accounts table: %w", err)
	}

	logger.Info().Msg("connected to user database")
	return &PgStore{db: db, log: logger}, nil
}

func (ps *PgStore) Register(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	res, err := ps.db.Exec(
		`INSERT INTO accounts (username, password_hash) VALUES ($1, $2)
		ON CONFLICT (username) DO NOTHING`,
		username, string(hash),
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrUserExists
	}

	return nil
}

func (ps *PgStore) Authenticate(username, password string) (types.User, error) {
	var hash string
	err := ps.db.QueryRow(
		`SELECT password_hash FROM accounts WHERE username = $1`,
		username,
	).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return types.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return types.User{}, fmt.Errorf("query account: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return types.User{}, ErrInvalidCredentials
	}

	return types.User{Username: username, PasswordHash: hash}, nil
}

func (ps *PgStore) Close() error { return ps.db.Close() }
