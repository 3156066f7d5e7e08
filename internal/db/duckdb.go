// Package db opens the embedded DuckDB database used to read local layer
// sources.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/rs/zerolog"
)

var (
	instance *sql.DB
	once     sync.Once
	initErr  error
)

// Extensions are installed and loaded on every new connection pool.
var Extensions = []string{"spatial", "json", "parquet"}

// Config holds database configuration. An empty DBName opens an in-memory
// database.
type Config struct {
	DataDir string
	DBName  string
	Logger  zerolog.Logger
}

// Open opens a DuckDB pool and loads Extensions.
func Open(cfg Config) (*sql.DB, error) {
	dsn := ""
	if cfg.DBName != "" {
		dir := filepath.Join(cfg.DataDir, "duckdb")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create duckdb directory: %w", err)
		}
		dsn = filepath.Join(dir, cfg.DBName+".duckdb")
	}

	conn, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	for _, ext := range Extensions {
		if _, err := conn.Exec(fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
			// Already-bundled extensions can refuse INSTALL offline; LOAD is what matters.
			if _, err := conn.Exec("LOAD " + ext); err != nil {
				cfg.Logger.Warn().Err(err).Str("extension", ext).Msg("duckdb extension unavailable")
			}
		}
	}
	return conn, nil
}

// Get returns the process-wide DuckDB pool, opening it on first use.
func Get(cfg Config) (*sql.DB, error) {
	once.Do(func() {
		instance, initErr = Open(cfg)
	})
	return instance, initErr
}

// Close closes the process-wide pool.
func Close() error {
	if instance != nil {
		return instance.Close()
	}
	return nil
}

// Rows runs query and returns every row as a column-name keyed map.
func Rows(ctx context.Context, conn *sql.DB, query string, args ...any) ([]map[string]any, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Quote renders s as a SQL string literal.
func Quote(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, s[i])
	}
	return append(out, '\'')
}
