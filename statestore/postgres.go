package statestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/datazip-inc/olake-github/types"
	"github.com/datazip-inc/olake-github/utils/logger"
)

const (
	defaultStateTable  = "olake_github_state"
	defaultConnectorID = "default"
)

// Postgres keeps one JSONB row per connector id
type Postgres struct {
	pool        *pgxpool.Pool
	table       string
	connectorID string
}

func NewPostgres(ctx context.Context, cfg *PostgresConfig) (*Postgres, error) {
	if cfg == nil || cfg.DSN == "" {
		return nil, fmt.Errorf("postgres state store requires a dsn")
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres state store: %s", err)
	}

	store := &Postgres{
		pool:        pool,
		table:       pgx.Identifier{tableName(cfg.Table)}.Sanitize(),
		connectorID: connectorID(cfg.ConnectorID),
	}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func tableName(table string) string {
	if table == "" {
		return defaultStateTable
	}
	return table
}

func connectorID(id string) string {
	if id == "" {
		return defaultConnectorID
	}
	return id
}

func (p *Postgres) migrate(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		connector_id TEXT PRIMARY KEY,
		state JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`, p.table)
	if _, err := p.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create state table %s: %s", p.table, err)
	}
	logger.Debugf("state table %s ready", p.table)
	return nil
}

func (p *Postgres) Type() string {
	return PostgresStore
}

func (p *Postgres) Load(ctx context.Context) (*types.State, error) {
	var data []byte
	query := fmt.Sprintf(`SELECT state FROM %s WHERE connector_id = $1`, p.table)
	err := p.pool.QueryRow(ctx, query, p.connectorID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state of connector[%s]: %s", p.connectorID, err)
	}

	state := types.NewState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state of connector[%s]: %s", p.connectorID, err)
	}
	return state, nil
}

func (p *Postgres) Save(ctx context.Context, state *types.State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %s", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (connector_id, state, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (connector_id) DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`, p.table)
	if _, err := p.pool.Exec(ctx, query, p.connectorID, data); err != nil {
		return fmt.Errorf("failed to save state of connector[%s]: %s", p.connectorID, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
