package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"launchpadScope/internal/model"
	"launchpadScope/internal/storage"
)

var _ storage.Sink = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS launchpad_tokens (
	chain_id              BIGINT      NOT NULL,
	token_address         TEXT        NOT NULL,
	emitter               TEXT        NOT NULL,
	creator               TEXT        NOT NULL,
	name                  TEXT        NOT NULL,
	symbol                TEXT        NOT NULL,
	description           TEXT        NOT NULL,
	image                 TEXT        NOT NULL,
	content_hash          TEXT        NOT NULL,
	created_at_block_time BIGINT      NOT NULL,
	block_number          BIGINT      NOT NULL,
	tx_hash               TEXT        NOT NULL,
	log_index             BIGINT      NOT NULL,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, token_address)
);

CREATE TABLE IF NOT EXISTS launchpad_trades (
	chain_id         BIGINT      NOT NULL,
	tx_hash          TEXT        NOT NULL,
	log_index        BIGINT      NOT NULL,
	block_number     BIGINT      NOT NULL,
	block_time       BIGINT      NOT NULL,
	token_address    TEXT        NOT NULL,
	actor            TEXT        NOT NULL,
	direction        TEXT        NOT NULL,
	amount           NUMERIC     NOT NULL,
	price            NUMERIC     NOT NULL,
	resulting_supply NUMERIC     NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, tx_hash, log_index)
);

CREATE INDEX IF NOT EXISTS launchpad_trades_token_idx
	ON launchpad_trades (token_address, block_number DESC);

CREATE TABLE IF NOT EXISTS launchpad_snapshots (
	token_address    TEXT PRIMARY KEY,
	owner            TEXT          NOT NULL,
	total_supply     NUMERIC       NOT NULL,
	raised           NUMERIC       NOT NULL,
	max_cap          NUMERIC       NOT NULL,
	progress_percent NUMERIC(5, 2) NOT NULL,
	current_price    NUMERIC,
	updated_at       TIMESTAMPTZ   NOT NULL
);

CREATE TABLE IF NOT EXISTS launchpad_decode_errors (
	id           BIGSERIAL PRIMARY KEY,
	chain_id     BIGINT      NOT NULL,
	block_number BIGINT      NOT NULL,
	tx_hash      TEXT        NOT NULL,
	log_index    BIGINT      NOT NULL,
	address      TEXT        NOT NULL,
	topic0       TEXT        NOT NULL,
	error        TEXT        NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store archives launchpad events and curve snapshots in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

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

// EnsureSchema creates the archive tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// PutEvents stores token records and trades. Replayed trades are ignored.
func (s *Store) PutEvents(ctx context.Context, events []model.Event) error {
	var tokens []model.TokenRecord
	var trades []model.TradeEvent
	for _, ev := range events {
		switch e := ev.(type) {
		case model.TokenRecord:
			tokens = append(tokens, e)
		case model.TradeEvent:
			trades = append(trades, e)
		}
	}
	if err := s.UpsertTokens(ctx, tokens); err != nil {
		return err
	}
	return s.InsertTrades(ctx, trades)
}

// UpsertTokens inserts token records, keeping the earliest sighting.
func (s *Store) UpsertTokens(ctx context.Context, tokens []model.TokenRecord) error {
	if len(tokens) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range tokens {
		batch.Queue(`
			INSERT INTO launchpad_tokens (
				chain_id, token_address, emitter, creator, name, symbol, description, image,
				content_hash, created_at_block_time, block_number, tx_hash, log_index
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
			ON CONFLICT (chain_id, token_address)
			DO UPDATE SET
				created_at_block_time = GREATEST(launchpad_tokens.created_at_block_time, EXCLUDED.created_at_block_time),
				block_number = LEAST(launchpad_tokens.block_number, EXCLUDED.block_number)
		`,
			int64(t.ChainID),
			t.TokenAddress,
			t.Emitter,
			t.Creator,
			t.Name,
			t.Symbol,
			t.Description,
			t.Image,
			t.ContentHash,
			int64(t.CreatedAtBlockTime),
			int64(t.Ledger.BlockNumber),
			t.Ledger.TxHash,
			int64(t.Ledger.LogIndex),
		)
	}
	return s.sendBatch(ctx, batch, len(tokens))
}

// InsertTrades inserts trades keyed by (chain, tx hash, log index).
func (s *Store) InsertTrades(ctx context.Context, trades []model.TradeEvent) error {
	if len(trades) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(`
			INSERT INTO launchpad_trades (
				chain_id, tx_hash, log_index, block_number, block_time, token_address, actor,
				direction, amount, price, resulting_supply
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10::numeric, $11::numeric)
			ON CONFLICT (chain_id, tx_hash, log_index) DO NOTHING
		`,
			int64(t.ChainID),
			t.Ledger.TxHash,
			int64(t.Ledger.LogIndex),
			int64(t.Ledger.BlockNumber),
			int64(t.Timestamp),
			t.TokenAddress,
			t.Actor,
			t.Direction.String(),
			t.Amount,
			t.Price,
			t.ResultingSupply,
		)
	}
	return s.sendBatch(ctx, batch, len(trades))
}

// PutSnapshots upserts the latest snapshot per token.
func (s *Store) PutSnapshots(ctx context.Context, snapshots []model.BondedCurveSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, snap := range snapshots {
		batch.Queue(`
			INSERT INTO launchpad_snapshots (
				token_address, owner, total_supply, raised, max_cap, progress_percent, current_price, updated_at
			) VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, $7::numeric, $8)
			ON CONFLICT (token_address)
			DO UPDATE SET
				owner = EXCLUDED.owner,
				total_supply = EXCLUDED.total_supply,
				raised = EXCLUDED.raised,
				max_cap = EXCLUDED.max_cap,
				progress_percent = EXCLUDED.progress_percent,
				current_price = EXCLUDED.current_price,
				updated_at = EXCLUDED.updated_at
			WHERE launchpad_snapshots.updated_at <= EXCLUDED.updated_at
		`,
			snap.Token,
			snap.Owner,
			snap.TotalSupply,
			snap.Raised,
			snap.MaxCap,
			snap.ProgressPercent,
			nullableNumeric(snap.CurrentPrice),
			snap.UpdatedAt,
		)
	}
	return s.sendBatch(ctx, batch, len(snapshots))
}

// PutDecodeErrors records logs that failed to decode.
func (s *Store) PutDecodeErrors(ctx context.Context, errs []model.DecodeError) error {
	if len(errs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range errs {
		batch.Queue(`
			INSERT INTO launchpad_decode_errors (
				chain_id, block_number, tx_hash, log_index, address, topic0, error
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			int64(e.ChainID),
			int64(e.BlockNumber),
			e.TxHash,
			int64(e.LogIndex),
			e.Address,
			e.Topic0,
			e.Error,
		)
	}
	return s.sendBatch(ctx, batch, len(errs))
}

func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch, n int) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func nullableNumeric(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
