// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package mirror

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/pdiddy/enlitens-kb/pkg/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

const upsertEntrySQL = `
INSERT INTO knowledge_entries (document_id, title, model_key, sha256, processed_at, tags, entry, updated_at)
VALUES (:document_id, :title, :model_key, :sha256, :processed_at, :tags, :entry, :updated_at)
ON CONFLICT (document_id) DO UPDATE SET
    title = excluded.title,
    model_key = excluded.model_key,
    sha256 = excluded.sha256,
    processed_at = excluded.processed_at,
    tags = excluded.tags,
    entry = excluded.entry,
    updated_at = excluded.updated_at`

// entryRow is one knowledge_entries row.
type entryRow struct {
	DocumentID  string    `db:"document_id"`
	Title       string    `db:"title"`
	ModelKey    string    `db:"model_key"`
	SHA256      string    `db:"sha256"`
	ProcessedAt string    `db:"processed_at"`
	Tags        string    `db:"tags"`
	Entry       string    `db:"entry"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Postgres mirrors entries into the knowledge_entries table.
type Postgres struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgres runs the embedded migrations against dsn and connects.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	if err := migrateUp(dsn); err != nil {
		return nil, err
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return newPostgres(db), nil
}

func newPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db, now: time.Now}
}

// migrateUp applies pending migrations on a dedicated connection.
func migrateUp(dsn string) error {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return fmt.Errorf("connecting for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Name implements Mirror.
func (p *Postgres) Name() string { return "postgres" }

// Upsert inserts or replaces the row for entry.
func (p *Postgres) Upsert(ctx context.Context, entry *types.KnowledgeEntry) error {
	row, err := p.row(entry)
	if err != nil {
		return err
	}
	if _, err := p.db.NamedExecContext(ctx, upsertEntrySQL, row); err != nil {
		return fmt.Errorf("upserting %s: %w", entry.DocumentID, err)
	}
	return nil
}

func (p *Postgres) row(entry *types.KnowledgeEntry) (entryRow, error) {
	body, err := json.Marshal(entry)
	if err != nil {
		return entryRow{}, err
	}
	tags := entry.Metadata.Tags
	if tags == nil {
		tags = []string{}
	}
	tagJSON, err := json.Marshal(tags)
	if err != nil {
		return entryRow{}, err
	}
	return entryRow{
		DocumentID:  entry.DocumentID,
		Title:       entry.Metadata.Title,
		ModelKey:    entry.ModelKey,
		SHA256:      entry.Source.SHA256,
		ProcessedAt: entry.Metadata.ProcessedAt,
		Tags:        string(tagJSON),
		Entry:       string(body),
		UpdatedAt:   p.now().UTC(),
	}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() error { return p.db.Close() }
