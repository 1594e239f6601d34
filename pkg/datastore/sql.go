// Package datastore persists the town journal.
package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/townhall/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

const defaultEventLimit = 100

// ErrTownNotFound is returned by writes addressed to a town that was never journaled.
var ErrTownNotFound = errors.New("datastore: town not found")

type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type baseProvider struct {
	DB
}

type nonTxProvider struct {
	baseProvider
}

type txProvider struct {
	baseProvider
	tx *sql.Tx
}

func (c *txProvider) Rollback() error {
	return c.tx.Rollback()
}

func (c *txProvider) Commit() error {
	return c.tx.Commit()
}

// ProviderFactory hands out journal providers backed by one SQLite database.
type ProviderFactory struct {
	DB *sql.DB
}

func (sf ProviderFactory) NonTx() DataStore {
	return &nonTxProvider{
		baseProvider: baseProvider{
			DB: sf.DB,
		},
	}
}

func (sf ProviderFactory) Tx(ctx context.Context) (DataStoreTx, error) {
	tx, err := sf.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	return &txProvider{
		baseProvider: baseProvider{
			DB: tx,
		},
		tx: tx,
	}, nil
}

// NewProviderFactory opens (or creates) a SQLite database and runs migrations.
func NewProviderFactory(dbPath string) (*ProviderFactory, error) {
	DB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	// WAL lets the history endpoint read while the journal writes
	if _, err := DB.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	if _, err := DB.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: enable FK: %w", err)
	}
	if _, err := DB.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &ProviderFactory{DB: DB}
	if err := s.migrate(); err != nil {
		_ = DB.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *ProviderFactory) Close() error {
	return s.DB.Close()
}

func (s *ProviderFactory) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS towns (
		seq             INTEGER PRIMARY KEY AUTOINCREMENT,
		id              TEXT    NOT NULL UNIQUE CHECK(length(id) > 0),
		friendly_name   TEXT    NOT NULL CHECK(length(friendly_name) > 0),
		is_public       INTEGER NOT NULL DEFAULT 0,
		password_digest TEXT    NOT NULL,
		created_at      TEXT    NOT NULL DEFAULT (datetime('now')),
		deleted_at      TEXT
	);

	CREATE TABLE IF NOT EXISTS events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		town_id     TEXT    NOT NULL,
		kind        INTEGER NOT NULL,
		receiver_id TEXT    NOT NULL DEFAULT '',
		content     TEXT    NOT NULL DEFAULT '',
		created_at  TEXT    NOT NULL DEFAULT (datetime('now'))
	);
	`
	ctx := context.Background()
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version      int
		statements   []string
		ignoreErrors bool
	}{
		{
			version:    1,
			statements: []string{schema},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS idx_events_town ON events (town_id, id)",
			},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := s.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *ProviderFactory) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *ProviderFactory) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.DB.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *ProviderFactory) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.DB.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func (s *ProviderFactory) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// journalTime is the precision both journal implementations store.
func journalTime(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Truncate(time.Second)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ---- Towns ----

// CreateTown journals a new town. rec.CreatedAt is filled in when zero.
func (s *baseProvider) CreateTown(rec *model.TownRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("datastore: create town: %w", err)
	}
	rec.CreatedAt = journalTime(rec.CreatedAt)
	_, err := s.ExecContext(context.Background(),
		"INSERT INTO towns (id, friendly_name, is_public, password_digest, created_at) VALUES (?, ?, ?, ?, ?)",
		rec.ID, rec.FriendlyName, boolToInt(rec.IsPubliclyListed), rec.PasswordDigest, formatDBTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("datastore: create town: %w", err)
	}
	return nil
}

// UpdateTown overwrites the display attributes of a live town.
func (s *baseProvider) UpdateTown(id, friendlyName string, isPubliclyListed bool) error {
	if err := model.ValidateFriendlyName(friendlyName); err != nil {
		return fmt.Errorf("datastore: update town: %w", err)
	}
	res, err := s.ExecContext(context.Background(),
		"UPDATE towns SET friendly_name = ?, is_public = ? WHERE id = ? AND deleted_at IS NULL",
		friendlyName, boolToInt(isPubliclyListed), id)
	if err != nil {
		return fmt.Errorf("datastore: update town: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("datastore: update town %s: %w", id, ErrTownNotFound)
	}
	return nil
}

// MarkTownDeleted stamps the deletion time. Deleting twice keeps the first stamp.
func (s *baseProvider) MarkTownDeleted(id string, at time.Time) error {
	res, err := s.ExecContext(context.Background(),
		"UPDATE towns SET deleted_at = COALESCE(deleted_at, ?) WHERE id = ?",
		formatDBTime(journalTime(at)), id)
	if err != nil {
		return fmt.Errorf("datastore: delete town: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("datastore: delete town %s: %w", id, ErrTownNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTown(row rowScanner) (*model.TownRecord, error) {
	var rec model.TownRecord
	var isPublic int
	var createdAt string
	var deletedAt *string
	if err := row.Scan(&rec.ID, &rec.FriendlyName, &isPublic, &rec.PasswordDigest, &createdAt, &deletedAt); err != nil {
		return nil, err
	}
	rec.IsPubliclyListed = isPublic != 0
	parsed, err := parseDBTime(createdAt)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = parsed
	if deletedAt != nil {
		parsed, err := parseDBTime(*deletedAt)
		if err != nil {
			return nil, err
		}
		rec.DeletedAt = parsed
	}
	return &rec, nil
}

// GetTown returns a journaled town by id.
func (s *baseProvider) GetTown(id string) (*model.TownRecord, error) {
	row := s.QueryRowContext(context.Background(),
		"SELECT id, friendly_name, is_public, password_digest, created_at, deleted_at FROM towns WHERE id = ?", id)
	rec, err := scanTown(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get town: %w", err)
	}
	return rec, nil
}

// ListTowns returns journaled towns in creation order.
func (s *baseProvider) ListTowns(includeDeleted bool) ([]model.TownRecord, error) {
	rows, err := s.QueryContext(context.Background(), `
		SELECT id, friendly_name, is_public, password_digest, created_at, deleted_at
		FROM towns
		WHERE ? OR deleted_at IS NULL
		ORDER BY seq`, boolToInt(includeDeleted))
	if err != nil {
		return nil, fmt.Errorf("datastore: list towns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var towns []model.TownRecord
	for rows.Next() {
		rec, err := scanTown(rows)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan town: %w", err)
		}
		towns = append(towns, *rec)
	}
	return towns, rows.Err()
}

// ---- Events ----

// CreateEvent appends an event and sets its ID.
func (s *baseProvider) CreateEvent(event *model.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("datastore: event failed validation: %w", err)
	}
	event.CreatedAt = journalTime(event.CreatedAt)

	res, err := s.ExecContext(
		context.Background(),
		"INSERT INTO events (town_id, kind, receiver_id, content, created_at) VALUES (?, ?, ?, ?, ?)",
		event.TownID, int(event.Kind), event.ReceiverID, event.Content, formatDBTime(event.CreatedAt))
	if err != nil {
		return fmt.Errorf("datastore: create event: %w", err)
	}
	event.ID, _ = res.LastInsertId()
	return nil
}

// ListEvents returns matching events, newest first.
func (s *baseProvider) ListEvents(filters model.EventFilters) ([]model.Event, error) {
	query := `
		SELECT id, town_id, kind, receiver_id, content, created_at
		FROM events
		WHERE (? IS NULL OR town_id = ?)
		AND (? IS NULL OR kind = ?)
		ORDER BY id DESC
		LIMIT COALESCE(?, ?)
	`

	var kind *int
	if filters.Kind != nil {
		k := int(*filters.Kind)
		kind = &k
	}

	rows, err := s.QueryContext(
		context.Background(),
		query,
		filters.TownID, filters.TownID,
		kind, kind,
		filters.Limit, defaultEventLimit,
	)
	if err != nil {
		return nil, fmt.Errorf("datastore: list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		var kindInt int
		var createdAt string
		if err := rows.Scan(&e.ID, &e.TownID, &kindInt, &e.ReceiverID, &e.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan event: %w", err)
		}
		e.Kind = model.EventKind(kindInt)
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan event: %w", err)
		}
		e.CreatedAt = parsed
		events = append(events, e)
	}
	return events, rows.Err()
}
