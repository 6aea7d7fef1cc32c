// Package catalog defines the read-only boundary to the problem dataset
// store: each problem owns a set of named tables with a declared column
// schema and row data. The sandbox consumes it once, at provisioning time.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("catalog: not found")

// ColumnType is the declared type of a dataset column.
type ColumnType string

const (
	TypeInteger ColumnType = "INTEGER"
	TypeReal    ColumnType = "REAL"
	TypeText    ColumnType = "TEXT"
	TypeDate    ColumnType = "DATE"
)

// Valid reports whether the declared type is one the sandbox can provision.
func (t ColumnType) Valid() bool {
	switch t {
	case TypeInteger, TypeReal, TypeText, TypeDate:
		return true
	default:
		return false
	}
}

type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Table describes one dataset table of a problem. Row data either lives
// inline in the catalog (fetched via GetRows) or, for larger datasets, as a
// parquet object referenced by ObjectPath.
type Table struct {
	ProblemID  int
	Name       string
	Columns    []Column
	ObjectPath string
}

type Problem struct {
	ID          int
	Title       string
	Description string
	Difficulty  string
	CreatedAt   time.Time
}

// Source is the slice of the catalog the sandbox depends on.
type Source interface {
	GetTables(ctx context.Context, problemID int) ([]Table, error)
	GetRows(ctx context.Context, problemID int, tableName string) ([][]any, error)
}

// Store is a full catalog backend: the sandbox Source plus the problem
// metadata reads the surrounding platform uses.
type Store interface {
	Source
	HealthCheck(ctx context.Context) error
	GetProblem(ctx context.Context, problemID int) (Problem, error)
	ListProblems(ctx context.Context) ([]Problem, error)
}

// ValidateColumns rejects schemas the sandbox cannot provision.
func ValidateColumns(tableName string, columns []Column) error {
	if len(columns) == 0 {
		return fmt.Errorf("table %q has no columns", tableName)
	}
	for _, col := range columns {
		if col.Name == "" {
			return fmt.Errorf("table %q has a column with no name", tableName)
		}
		if !col.Type.Valid() {
			return fmt.Errorf("table %q column %q has unsupported type %q", tableName, col.Name, col.Type)
		}
	}
	return nil
}
