// Package cache keeps the last value seen for every watch entry so a
// restarted workspace can show something before the first live read.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS watch_values (
	project    TEXT NOT NULL,
	name       TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (project, name)
)`

type key struct {
	project, name string
}

type pending struct {
	value string
	at    time.Time
}

// ValueCache buffers updates in memory and writes them in batches.
type ValueCache struct {
	db     *sql.DB
	logger *zap.Logger

	mu    sync.Mutex
	dirty map[key]pending
}

// Open opens (or creates) the cache database at path. ":memory:" works for
// tests.
func Open(ctx context.Context, path string, logger *zap.Logger) (*ValueCache, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one connection keeps ":memory:" a single database
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	for _, stmt := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init cache %s: %w", path, err)
		}
	}

	return &ValueCache{db: db, logger: logger, dirty: make(map[key]pending)}, nil
}

// Put records a value to be written on the next Flush.
func (c *ValueCache) Put(project, name, value string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty[key{project, name}] = pending{value: value, at: at}
}

// Flush writes every buffered value in one transaction.
func (c *ValueCache) Flush(ctx context.Context) error {
	c.mu.Lock()
	batch := c.dirty
	c.dirty = make(map[key]pending)
	c.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := c.write(ctx, batch); err != nil {
		// put the batch back unless newer values arrived meanwhile
		c.mu.Lock()
		for k, v := range batch {
			if _, newer := c.dirty[k]; !newer {
				c.dirty[k] = v
			}
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

func (c *ValueCache) write(ctx context.Context, batch map[key]pending) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cache flush: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO watch_values (project, name, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (project, name) DO UPDATE
		SET value = excluded.value, updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare cache flush: %w", err)
	}
	defer stmt.Close()

	for k, v := range batch {
		if _, err := stmt.ExecContext(ctx, k.project, k.name, v.value, v.at.UnixMilli()); err != nil {
			return fmt.Errorf("write %s/%s: %w", k.project, k.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cache flush: %w", err)
	}
	return nil
}

// Load returns the cached values of project by watch name.
func (c *ValueCache) Load(ctx context.Context, project string) (map[string]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT name, value FROM watch_values WHERE project = ?`, project)
	if err != nil {
		return nil, fmt.Errorf("query cache: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan cache: %w", err)
		}
		values[name] = value
	}
	return values, rows.Err()
}

// Forget drops everything cached for project.
func (c *ValueCache) Forget(ctx context.Context, project string) error {
	c.mu.Lock()
	for k := range c.dirty {
		if k.project == project {
			delete(c.dirty, k)
		}
	}
	c.mu.Unlock()

	_, err := c.db.ExecContext(ctx, `DELETE FROM watch_values WHERE project = ?`, project)
	return err
}

// Run flushes every interval until ctx is done, then flushes once more.
func (c *ValueCache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := c.Flush(context.Background()); err != nil {
				c.logger.Warn("Final cache flush failed", zap.Error(err))
			}
			return
		case <-ticker.C:
			if err := c.Flush(ctx); err != nil {
				c.logger.Warn("Cache flush failed", zap.Error(err))
			}
		}
	}
}

func (c *ValueCache) Close() error {
	return c.db.Close()
}
