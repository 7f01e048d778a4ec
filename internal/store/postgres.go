package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const createStateTable = `CREATE TABLE IF NOT EXISTS client_state (
	key        TEXT PRIMARY KEY,
	state      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps the client state in one row of client_state, keyed so
// several clients can share a database.
type PostgresStore struct {
	DB  *sqlx.DB
	Key string
}

// OpenPostgres connects with the lib/pq driver and pings the server.
func OpenPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func NewPostgresStore(db *sqlx.DB, key string) *PostgresStore {
	if key == "" {
		key = "default"
	}
	return &PostgresStore{DB: db, Key: key}
}

// Migrate creates the state table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, createStateTable); err != nil {
		return fmt.Errorf("create client_state: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) ([]byte, error) {
	var state string
	err := s.DB.GetContext(ctx, &state, "SELECT state FROM client_state WHERE key = $1", s.Key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state %q: %w", s.Key, err)
	}
	return []byte(state), nil
}

func (s *PostgresStore) Save(ctx context.Context, b []byte) error {
	const q = `INSERT INTO client_state (key, state, updated_at) VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`
	// jsonb wants text; lib/pq would send []byte as bytea.
	if _, err := s.DB.ExecContext(ctx, q, s.Key, string(b)); err != nil {
		return fmt.Errorf("save state %q: %w", s.Key, err)
	}
	return nil
}

func (s *PostgresStore) Close() error { return s.DB.Close() }
