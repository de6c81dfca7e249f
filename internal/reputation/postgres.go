package reputation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists faction standings in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmt := `CREATE TABLE IF NOT EXISTS player_reputation (
		player_id TEXT NOT NULL,
		faction_id TEXT NOT NULL,
		score INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (player_id, faction_id)
	);`
	if _, err := pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, playerID, factionID string) (Standing, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT score, updated_at FROM player_reputation WHERE player_id=$1 AND faction_id=$2`,
		playerID, factionID,
	)

	st := Standing{PlayerID: playerID, FactionID: factionID}
	err := row.Scan(&st.Score, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Unknown pairs read as neutral; a row appears on first Adjust.
		st.Tier = Describe(0)
		st.UpdatedAt = time.Now().UTC()
		return st, nil
	}
	if err != nil {
		return Standing{}, fmt.Errorf("query standing: %w", err)
	}
	st.Tier = Describe(st.Score)
	return st, nil
}

func (s *PostgresStore) Adjust(ctx context.Context, playerID, factionID string, delta int) (Standing, error) {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO player_reputation (player_id, faction_id, score, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (player_id, faction_id)
		 DO UPDATE SET score = player_reputation.score + $3, updated_at = now()
		 RETURNING score, updated_at`,
		playerID, factionID, delta,
	)

	st := Standing{PlayerID: playerID, FactionID: factionID}
	if err := row.Scan(&st.Score, &st.UpdatedAt); err != nil {
		return Standing{}, fmt.Errorf("adjust standing: %w", err)
	}
	st.Tier = Describe(st.Score)
	return st, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
