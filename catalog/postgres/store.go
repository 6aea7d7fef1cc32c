// Package postgres implements the dataset catalog over a Postgres problem
// bank with the same logical schema as the SQLite store.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sqlarena/sqlarena/catalog"
)

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// Open opens a pooled connection to the problem bank and verifies it is
// reachable.
func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("catalog dsn is required")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping catalog db: %w", err)
	}
	return db, nil
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping catalog db: %w", err)
	}
	return nil
}

func (s *Store) GetTables(ctx context.Context, problemID int) ([]catalog.Table, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT table_name, schema_json, object_path
FROM problem_tables
WHERE problem_id = $1
ORDER BY id ASC`, problemID)
	if err != nil {
		return nil, fmt.Errorf("list problem tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]catalog.Table, 0)
	for rows.Next() {
		var (
			name       string
			schemaJSON []byte
			objectPath sql.NullString
		)
		if err := rows.Scan(&name, &schemaJSON, &objectPath); err != nil {
			return nil, fmt.Errorf("scan problem table: %w", err)
		}
		var columns []catalog.Column
		if err := json.Unmarshal(schemaJSON, &columns); err != nil {
			return nil, fmt.Errorf("parse schema for table %q: %w", name, err)
		}
		tables = append(tables, catalog.Table{
			ProblemID:  problemID,
			Name:       name,
			Columns:    columns,
			ObjectPath: objectPath.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate problem tables: %w", err)
	}
	return tables, nil
}

func (s *Store) GetRows(ctx context.Context, problemID int, tableName string) ([][]any, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT row_json
FROM table_data
WHERE problem_id = $1 AND table_name = $2
ORDER BY id ASC`, problemID, tableName)
	if err != nil {
		return nil, fmt.Errorf("list table rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	data := make([][]any, 0)
	for rows.Next() {
		var rowJSON []byte
		if err := rows.Scan(&rowJSON); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		var values []any
		if err := json.Unmarshal(rowJSON, &values); err != nil {
			return nil, fmt.Errorf("parse row for table %q: %w", tableName, err)
		}
		data = append(data, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table rows: %w", err)
	}
	return data, nil
}

func (s *Store) GetProblem(ctx context.Context, problemID int) (catalog.Problem, error) {
	var problem catalog.Problem
	err := s.db.QueryRowContext(ctx, `
SELECT id, title, description, difficulty, created_at
FROM problems
WHERE id = $1`, problemID).Scan(
		&problem.ID,
		&problem.Title,
		&problem.Description,
		&problem.Difficulty,
		&problem.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Problem{}, catalog.ErrNotFound
		}
		return catalog.Problem{}, fmt.Errorf("get problem: %w", err)
	}
	return problem, nil
}

func (s *Store) ListProblems(ctx context.Context) ([]catalog.Problem, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, title, description, difficulty, created_at
FROM problems
ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list problems: %w", err)
	}
	defer func() { _ = rows.Close() }()

	problems := make([]catalog.Problem, 0)
	for rows.Next() {
		var problem catalog.Problem
		if err := rows.Scan(
			&problem.ID,
			&problem.Title,
			&problem.Description,
			&problem.Difficulty,
			&problem.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan problem: %w", err)
		}
		problems = append(problems, problem)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate problems: %w", err)
	}
	return problems, nil
}
