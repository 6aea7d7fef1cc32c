// Package sandbox is the sandboxed multi-tenant query execution engine: it
// provisions per-problem datasets into tenant-scoped tables inside a shared
// embedded DuckDB instance and runs candidate SQL against them read-only,
// under a row cap and a wall-clock timeout, returning JSON-safe results or a
// classified failure.
package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/sqlarena/sqlarena/catalog"
	"github.com/sqlarena/sqlarena/storage"
)

const (
	DefaultRowCap       = 5000
	DefaultQueryTimeout = 30 * time.Second
)

type Options struct {
	RowCap       int
	QueryTimeout time.Duration
	// ObjectStore is required only when the catalog references
	// parquet-backed datasets.
	ObjectStore storage.ObjectStore
	Logger      *slog.Logger
}

// Service owns the shared DuckDB instance and the session registry. All
// methods are safe for concurrent use; work for distinct sessions proceeds
// in parallel.
type Service struct {
	db      *sql.DB
	source  catalog.Source
	objects storage.ObjectStore
	logger  *slog.Logger
	rowCap  int
	timeout time.Duration

	mu        sync.Mutex
	sessions  map[string]*session
	byProblem map[int]*session
}

func New(source catalog.Source, opts Options) (*Service, error) {
	if source == nil {
		return nil, fmt.Errorf("catalog source is required")
	}
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	rowCap := opts.RowCap
	if rowCap <= 0 {
		rowCap = DefaultRowCap
	}
	timeout := opts.QueryTimeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Service{
		db:        db,
		source:    source,
		objects:   opts.ObjectStore,
		logger:    logger,
		rowCap:    rowCap,
		timeout:   timeout,
		sessions:  make(map[string]*session),
		byProblem: make(map[int]*session),
	}, nil
}

// Close tears down every live session and shuts the engine down.
func (s *Service) Close() error {
	s.mu.Lock()
	live := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	var errs []error
	for _, sess := range live {
		if err := s.Teardown(context.Background(), sess.id); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close duckdb: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Service) lookup(sessionID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sessionID]
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}
