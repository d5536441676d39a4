package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SetOnlineStatus(ctx context.Context, userID string, online bool) error {
	status := "offline"
	if online {
		status = "online"
	}
	_, err := p.db.ExecContext(ctx, `UPDATE users SET status=$1, updated_at=$2 WHERE id=$3`, status, time.Now(), userID)
	return err
}

func (p *PostgresStore) Close() error { return p.db.Close() }
