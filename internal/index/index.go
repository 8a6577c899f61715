// Package index keeps a SQLite lookup table over the card directory.
//
// The table is derived data. It only narrows which files a query loads;
// the files themselves stay authoritative and are validated on every read.
// A missing or stale index is repaired with Rebuild.
//
// # Database Configuration
//
//   - WAL mode: readers do not block the writer
//   - synchronous=NORMAL: a lost tail is recovered by Rebuild
//   - 5-second busy timeout for cross-process contention
package index

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/cardfile/internal/card"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - cards table with city and user lookups
const currentSchemaVersion = 1

// Index is a SQLite-backed city/status index over cards.
type Index struct {
	db    *sql.DB
	fresh bool
}

// Open creates or opens the index database at path and applies the schema.
// It is idempotent.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect index: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		db.Close()
		return nil, fmt.Errorf("read user_version: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Index{db: db, fresh: version != currentSchemaVersion}, nil
}

// Fresh reports whether Open had to create the schema, on a new file or
// over another version. A fresh index holds no cards yet.
func (x *Index) Fresh() bool {
	return x.fresh
}

// Close closes the database. It is safe on a nil Index.
func (x *Index) Close() error {
	if x == nil || x.db == nil {
		return nil
	}
	return x.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply index schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

const upsertSQL = `
INSERT INTO cards (number, id, city, status, decision, user_id)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(number) DO UPDATE SET
    id = excluded.id,
    city = excluded.city,
    status = excluded.status,
    decision = excluded.decision,
    user_id = excluded.user_id`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, db execer, c *card.Card) error {
	_, err := db.ExecContext(ctx, upsertSQL,
		c.Number, c.ID, string(c.City), string(c.Status), string(c.Decision), c.AccountMeta.UserID)
	if err != nil {
		return fmt.Errorf("index card %s: %w", c.Number, err)
	}
	return nil
}

// Upsert records c's current lookup fields.
func (x *Index) Upsert(ctx context.Context, c *card.Card) error {
	return upsert(ctx, x.db, c)
}

// Rebuild replaces the whole table with cards in one transaction.
func (x *Index) Rebuild(ctx context.Context, cards []card.Card) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rebuild: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM cards"); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	for i := range cards {
		if err := upsert(ctx, tx, &cards[i]); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rebuild: %w", err)
	}
	return nil
}

// NumbersByCity returns the indexed numbers in city ordered by id.
func (x *Index) NumbersByCity(ctx context.Context, city card.City) ([]string, error) {
	rows, err := x.db.QueryContext(ctx,
		"SELECT number FROM cards WHERE city = ? ORDER BY id ASC", string(city))
	if err != nil {
		return nil, fmt.Errorf("query city %s: %w", city, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan number: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Counts returns the number of indexed cards per status. Statuses with no
// cards are absent.
func (x *Index) Counts(ctx context.Context) (map[card.Status]int, error) {
	rows, err := x.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM cards GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count statuses: %w", err)
	}
	defer rows.Close()

	out := make(map[card.Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[card.Status(status)] = n
	}
	return out, rows.Err()
}

// Len returns the number of indexed cards.
func (x *Index) Len(ctx context.Context) (int, error) {
	var n int
	if err := x.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cards").Scan(&n); err != nil {
		return 0, fmt.Errorf("count cards: %w", err)
	}
	return n, nil
}

func (x *Index) pragma(name string) (string, error) {
	var value string
	if err := x.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return "", fmt.Errorf("query %s: %w", name, err)
	}
	return value, nil
}
