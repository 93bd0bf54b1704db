// Package sqlite is the standalone-mode storage backend: a single local
// database file via the pure-Go modernc driver, with embedded migrations
// applied on open.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/gohive/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open creates the database file (and its parent directory) if needed,
// migrates, and returns the store bundle.
func Open(ctx context.Context, path string) (*store.Stores, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The driver serializes writes; a single connection avoids SQLITE_BUSY
	// under concurrent agents.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
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
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return nil, fmt.Errorf("migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
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
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = b.db.ExecContext(ctx, `
		INSERT INTO agents (agent_id, task_id, parent_id, status, config, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (agent_id) DO UPDATE SET
			task_id = excluded.task_id,
			parent_id = excluded.parent_id,
			status = excluded.status,
			config = excluded.config,
			state = excluded.state,
			updated_at = excluded.updated_at`,
		rec.AgentID, rec.TaskID, rec.ParentID, rec.Status, string(cfg), string(state), now, now)
	return err
}

func (b *backend) UpdateAgentState(ctx context.Context, agentID string, state map[string]any) error {
	body, err := json.Marshal(orEmpty(state))
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	res, err := b.db.ExecContext(ctx,
		`UPDATE agents SET state = ?, updated_at = ? WHERE agent_id = ?`,
		string(body), time.Now().UTC().Format(time.RFC3339Nano), agentID)
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
		rec                         store.AgentRecord
		cfg, state, created, updated string
	)
	err := b.db.QueryRowContext(ctx, `
		SELECT agent_id, task_id, parent_id, status, config, state, created_at, updated_at
		FROM agents WHERE agent_id = ?`, agentID).
		Scan(&rec.AgentID, &rec.TaskID, &rec.ParentID, &rec.Status, &cfg, &state, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return store.AgentRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.AgentRecord{}, err
	}
	if err := json.Unmarshal([]byte(cfg), &rec.Config); err != nil {
		return store.AgentRecord{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := json.Unmarshal([]byte(state), &rec.State); err != nil {
		return store.AgentRecord{}, fmt.Errorf("unmarshal state: %w", err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
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
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.AgentID, rec.TaskID, rec.CostType, rec.CostUSD, string(meta),
		created.Format(time.RFC3339Nano))
	return err
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
