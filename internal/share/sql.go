package share

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const schema = `CREATE TABLE IF NOT EXISTS snapshots (
	id         VARCHAR(16) PRIMARY KEY,
	lab        TEXT NOT NULL,
	html       TEXT NOT NULL,
	css        TEXT NOT NULL,
	js         TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
)`

// maxIDAttempts bounds fresh ids drawn after a primary key collision.
const maxIDAttempts = 3

// SQLStore keeps snapshots in SQLite or PostgreSQL.
type SQLStore struct {
	db     *sql.DB
	driver string
	now    func() time.Time
	newID  func() (string, error)
}

// Open connects to the database and ensures the schema exists.
// driver is "sqlite" or "postgres".
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("share: unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("share: failed to open database: %w", err)
	}

	if driver == "sqlite" {
		// SQLite serializes writers.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("share: failed to connect: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("share: failed to create schema: %w", err)
	}

	return &SQLStore{db: db, driver: driver, now: time.Now, newID: NewID}, nil
}

// rebind rewrites ? placeholders to $N for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Save stores the snapshot under a fresh id. Only an id collision draws
// another id; any other failure is returned as is.
func (s *SQLStore) Save(ctx context.Context, snap Snapshot) (string, error) {
	query := s.rebind("INSERT INTO snapshots (id, lab, html, css, js, created_at) VALUES (?, ?, ?, ?, ?, ?)")
	created := s.now().UTC()

	var lastErr error
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := s.newID()
		if err != nil {
			return "", err
		}
		_, err = s.db.ExecContext(ctx, query, id, snap.Lab, snap.HTML, snap.CSS, snap.JS, created)
		if err == nil {
			return id, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isUniqueViolation(err) {
			return "", fmt.Errorf("share: save snapshot: %w", err)
		}
		lastErr = err
	}
	return "", fmt.Errorf("share: save snapshot: no free id after %d attempts: %w", maxIDAttempts, lastErr)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		// Extended codes carry the primary result code in the low byte.
		return liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

// Get loads a snapshot by id.
func (s *SQLStore) Get(ctx context.Context, id string) (Snapshot, error) {
	query := s.rebind("SELECT lab, html, css, js, created_at FROM snapshots WHERE id = ?")

	var snap Snapshot
	err := s.db.QueryRowContext(ctx, query, id).Scan(&snap.Lab, &snap.HTML, &snap.CSS, &snap.JS, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("share: load snapshot %s: %w", id, err)
	}
	return snap, nil
}

// Close releases the database connection
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
