// Package pg is the managed-mode storage backend: Postgres via the pgx
// stdlib driver, with embedded migrations applied on open.
package pg

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nextlevelbuilder/gohive/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open connects, migrates, and returns the store bundle. The caller owns the
// bundle's Close.
func Open(ctx context.Context, dsn string) (*store.Stores, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	b := &backend{db: db}
	s := &store.Stores{Agents: b, Costs: b}
	s.SetCloser(db.Close)
	return s, nil
}

// Migrator builds a migrate instance over the embedded migrations.
func Migrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return nil, fmt.Errorf("migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx", driver)
	if err != nil {
		return nil, fmt.Errorf("migrate init: %w", err)
	}
	return m, nil
}

// Migrate applies all pending embedded migrations.
func Migrate(db *sql.DB) error {
	m, err := Migrator(db)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

type backend struct {
	db *sql.DB
}

func (b *backend) PutAgent(ctx context.Context, rec store.AgentRecord) error {
	cfg, err := json.Marshal(orEmpty(rec.Config))
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	state, err := json.Marshal(orEmpty(rec.State))
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO agents (agent_id, task_id, parent_id, status, config, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (agent_id) DO UPDATE SET
			task_id = EXCLUDED.task_id,
			parent_id = EXCLUDED.parent_id,
			status = EXCLUDED.status,
			config = EXCLUDED.config,
			state = EXCLUDED.state,
			updated_at = now()`,
		rec.AgentID, rec.TaskID, rec.ParentID, rec.Status, cfg, state)
	return err
}

func (b *backend) UpdateAgentState(ctx context.Context, agentID string, state map[string]any) error {
	body, err := json.Marshal(orEmpty(state))
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	res, err := b.db.ExecContext(ctx,
		`UPDATE agents SET state = $2, updated_at = now() WHERE agent_id = $1`,
		agentID, body)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (b *backend) GetAgent(ctx context.Context, agentID string) (store.AgentRecord, error) {
	var (
		rec        store.AgentRecord
		cfg, state []byte
	)
	err := b.db.QueryRowContext(ctx, `
		SELECT agent_id, task_id, parent_id, status, config, state, created_at, updated_at
		FROM agents WHERE agent_id = $1`, agentID).
		Scan(&rec.AgentID, &rec.TaskID, &rec.ParentID, &rec.Status, &cfg, &state,
			&rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.AgentRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.AgentRecord{}, err
	}
	if err := json.Unmarshal(cfg, &rec.Config); err != nil {
		return store.AgentRecord{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := json.Unmarshal(state, &rec.State); err != nil {
		return store.AgentRecord{}, fmt.Errorf("unmarshal state: %w", err)
	}
	return rec, nil
}

func (b *backend) PutCostRecord(ctx context.Context, rec store.CostRecord) error {
	meta, err := json.Marshal(orEmpty(rec.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO cost_records (agent_id, task_id, cost_type, cost_usd, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.AgentID, rec.TaskID, rec.CostType, rec.CostUSD, meta, created)
	return err
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
