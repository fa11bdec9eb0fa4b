package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"farm-log-indexer-go/internal/farm"
)

const schema = `
CREATE TABLE IF NOT EXISTS farm_events (
	id           BIGSERIAL PRIMARY KEY,
	kind         TEXT NOT NULL,
	signature    TEXT NOT NULL,
	slot         BIGINT NOT NULL,
	farm_id      TEXT NOT NULL,
	user_account TEXT NOT NULL,
	lp_mint      TEXT,
	reward_mints TEXT[],
	start_time   BIGINT NOT NULL,
	end_time     BIGINT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (signature, kind)
);
CREATE INDEX IF NOT EXISTS farm_events_farm_id_idx ON farm_events (farm_id);
CREATE TABLE IF NOT EXISTS indexer_state (
	name           TEXT PRIMARY KEY,
	last_processed BIGINT NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store provides Postgres persistence for farm events.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore opens a connection pool for dsn. Connections are made lazily.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// eventRow is the column set of one farm_events row.
type eventRow struct {
	Kind        string
	Signature   string
	Slot        int64
	FarmID      string
	User        string
	LpMint      *string
	RewardMints []string
	StartTime   int64
	EndTime     int64
}

func toRow(slot uint64, tx farm.FarmTransaction) (eventRow, error) {
	if tx.Event == nil {
		return eventRow{}, fmt.Errorf("empty farm transaction")
	}
	row := eventRow{
		Kind:      tx.Event.Kind().String(),
		Signature: tx.Event.TxSignature(),
		Slot:      int64(slot),
	}

	switch e := tx.Event.(type) {
	case *farm.InitializeEvent:
		lp := e.LpMint
		row.FarmID, row.User, row.LpMint = e.FarmID, e.User, &lp
		row.RewardMints = e.RewardMints
		row.StartTime, row.EndTime = int64(e.StartTime), int64(e.EndTime)
	case *farm.RestartOrAddEvent:
		row.FarmID, row.User = e.FarmID, e.User
		row.StartTime, row.EndTime = int64(e.StartTime), int64(e.EndTime)
	case *farm.NewRewardEvent:
		row.FarmID, row.User = e.FarmID, e.User
		row.StartTime, row.EndTime = int64(e.StartTime), int64(e.EndTime)
	default:
		return eventRow{}, fmt.Errorf("unsupported event type %T", tx.Event)
	}
	return row, nil
}

// PutFarmTransactions inserts the events of one batch. Rows already stored are left untouched.
func (s *Store) PutFarmTransactions(ctx context.Context, slot uint64, txs []farm.FarmTransaction) error {
	if len(txs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, tx := range txs {
		row, err := toRow(slot, tx)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO farm_events (
				kind, signature, slot, farm_id, user_account, lp_mint, reward_mints, start_time, end_time
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (signature, kind) DO NOTHING
		`,
			row.Kind,
			row.Signature,
			row.Slot,
			row.FarmID,
			row.User,
			row.LpMint,
			row.RewardMints,
			row.StartTime,
			row.EndTime,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range txs {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadState returns the last processed slot stored under name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var slot int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed FROM indexer_state WHERE name=$1`, name)
	if err := row.Scan(&slot); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(slot), true, nil
}

// SaveState upserts the last processed slot for name.
func (s *Store) SaveState(ctx context.Context, name string, slot uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_processed, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed = EXCLUDED.last_processed, updated_at = now()
	`, name, int64(slot))
	return err
}
