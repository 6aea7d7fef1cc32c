// Package sqlite implements the dataset catalog over a SQLite problem bank
// (problems, problem_tables and table_data, with schemas and rows stored as
// JSON).
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sqlarena/sqlarena/catalog"
)

// Open opens the problem bank database and verifies it is reachable.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("catalog dsn is required")
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
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
WHERE problem_id = ?
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
WHERE problem_id = ? AND table_name = ?
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
WHERE id = ?`, problemID).Scan(
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
