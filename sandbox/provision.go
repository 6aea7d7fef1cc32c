package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sqlarena/sqlarena/catalog"
	"github.com/sqlarena/sqlarena/observability"
	"github.com/sqlarena/sqlarena/storage"
)

// duckdbType translates a declared catalog type to the engine's native
// column type.
func duckdbType(t catalog.ColumnType) string {
	switch t {
	case catalog.TypeInteger:
		return "INTEGER"
	case catalog.TypeReal:
		return "DOUBLE"
	case catalog.TypeText:
		return "VARCHAR"
	case catalog.TypeDate:
		return "DATE"
	default:
		return ""
	}
}

// Provision loads the problem's catalog tables into tenant-scoped physical
// tables and returns the session identifier. Calling it again for a problem
// that already has a live session drops and recreates that session's tables
// and returns the same identifier, so a retry after partial failure is safe.
func (s *Service) Provision(ctx context.Context, problemID int) (string, error) {
	start := time.Now()

	tables, err := s.source.GetTables(ctx, problemID)
	if err != nil {
		return "", &Error{Kind: KindProvisionError, Message: fmt.Sprintf("load catalog for problem %d: %v", problemID, err), Err: err}
	}
	if len(tables) == 0 {
		return "", errf(KindProvisionError, "no tables found for problem %d", problemID)
	}
	for _, tbl := range tables {
		if err := catalog.ValidateColumns(tbl.Name, tbl.Columns); err != nil {
			return "", &Error{Kind: KindProvisionError, Message: err.Error(), Err: err}
		}
	}

	sess, fresh, err := s.reserve(ctx, problemID, tables)
	if err != nil {
		return "", err
	}
	defer sess.busy.Store(false)

	if err := s.loadTables(ctx, sess); err != nil {
		if fresh {
			s.release(sess)
		}
		return "", err
	}

	observability.ObserveProvision(totalSkipped(sess), time.Since(start))
	s.logger.Info("session provisioned",
		"session_id", sess.id,
		"problem_id", problemID,
		"tables", len(sess.tables),
		"skipped_rows", totalSkipped(sess),
		"elapsed", time.Since(start),
	)
	return sess.id, nil
}

// reserve registers the session (or finds the live one for the problem)
// under the registry lock, so concurrent provisioning of distinct problems
// proceeds in parallel while a problem's physical identifiers stay owned by
// exactly one session. The returned session holds its busy flag: nothing
// else touches its namespace or connection until the caller releases it.
func (s *Service) reserve(ctx context.Context, problemID int, tables []catalog.Table) (*session, bool, error) {
	s.mu.Lock()
	if sess := s.byProblem[problemID]; sess != nil {
		s.mu.Unlock()
		return s.rebuild(sess, tables)
	}
	s.mu.Unlock()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, false, &Error{Kind: KindProvisionError, Message: "acquire engine connection", Err: err}
	}
	sess := &session{
		id:        uuid.NewString(),
		problemID: problemID,
		tables:    tables,
		skipped:   make(map[string]int),
	}
	rebuildNamespace(sess)
	sess.conn = conn
	sess.busy.Store(true)

	s.mu.Lock()
	if existing := s.byProblem[problemID]; existing != nil {
		// lost the race; hand the problem to the winner
		s.mu.Unlock()
		_ = conn.Close()
		return s.rebuild(existing, tables)
	}
	s.sessions[sess.id] = sess
	s.byProblem[problemID] = sess
	s.mu.Unlock()
	observability.SessionStarted()
	return sess, true, nil
}

// rebuild takes over a live session for re-provisioning. The busy flag
// serializes this against Run: a query in flight rejects the rebuild rather
// than racing the namespace swap.
func (s *Service) rebuild(sess *session, tables []catalog.Table) (*session, bool, error) {
	if !sess.busy.CompareAndSwap(false, true) {
		return nil, false, errf(KindBusy, "a query is running in this session: retry provisioning when it finishes")
	}
	sess.tables = tables
	rebuildNamespace(sess)
	return sess, false, nil
}

// release undoes a failed provisioning: any tables already created are
// dropped best-effort before the connection goes away.
func (s *Service) release(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	delete(s.byProblem, sess.problemID)
	s.mu.Unlock()
	for _, physical := range sess.physicalNames() {
		_, _ = sess.conn.ExecContext(context.Background(), "DROP TABLE IF EXISTS "+quoteIdent(physical))
	}
	_ = sess.conn.Close()
	observability.SessionEnded()
}

func rebuildNamespace(sess *session) {
	sess.allowed = make(map[string]bool, len(sess.tables))
	sess.physical = make(map[string]string, len(sess.tables))
	if sess.skipped == nil {
		sess.skipped = make(map[string]int)
	}
	for _, tbl := range sess.tables {
		logical := strings.ToLower(tbl.Name)
		sess.allowed[logical] = true
		sess.physical[logical] = fmt.Sprintf("%s_%d", tbl.Name, sess.problemID)
	}
}

// loadTables drops and recreates every physical table of the session and
// bulk-loads its rows, counting rows that fail to coerce instead of failing
// the dataset.
func (s *Service) loadTables(ctx context.Context, sess *session) error {
	for _, tbl := range sess.tables {
		physical := sess.physical[strings.ToLower(tbl.Name)]

		if _, err := sess.conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(physical)); err != nil {
			return &Error{Kind: KindProvisionError, Message: fmt.Sprintf("reset table %q", tbl.Name), Err: err}
		}

		columns := make([]string, 0, len(tbl.Columns))
		for _, col := range tbl.Columns {
			columns = append(columns, quoteIdent(col.Name)+" "+duckdbType(col.Type))
		}
		createSQL := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(physical), strings.Join(columns, ", "))
		if _, err := sess.conn.ExecContext(ctx, createSQL); err != nil {
			return &Error{Kind: KindProvisionError, Message: fmt.Sprintf("create table %q", tbl.Name), Err: err}
		}

		var skipped int
		var err error
		if tbl.ObjectPath != "" {
			err = s.loadParquet(ctx, sess, tbl, physical)
		} else {
			skipped, err = s.loadInline(ctx, sess, tbl, physical)
		}
		if err != nil {
			return err
		}
		sess.skipped[tbl.Name] = skipped
		if skipped > 0 {
			s.logger.Warn("skipped malformed dataset rows",
				"problem_id", sess.problemID,
				"table", tbl.Name,
				"skipped", skipped,
			)
		}
	}
	return nil
}

func (s *Service) loadInline(ctx context.Context, sess *session, tbl catalog.Table, physical string) (int, error) {
	rows, err := s.source.GetRows(ctx, sess.problemID, tbl.Name)
	if err != nil {
		return 0, &Error{Kind: KindProvisionError, Message: fmt.Sprintf("load rows for table %q: %v", tbl.Name, err), Err: err}
	}
	if len(rows) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(tbl.Columns)), ", ")
	insertSQL := fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(physical), placeholders)
	stmt, err := sess.conn.PrepareContext(ctx, insertSQL)
	if err != nil {
		return 0, &Error{Kind: KindProvisionError, Message: fmt.Sprintf("prepare insert for table %q", tbl.Name), Err: err}
	}
	defer func() { _ = stmt.Close() }()

	skipped := 0
	for _, row := range rows {
		values, ok := coerceRow(tbl.Columns, row)
		if !ok {
			skipped++
			continue
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			if ctx.Err() != nil {
				return 0, &Error{Kind: KindProvisionError, Message: fmt.Sprintf("load rows for table %q: %v", tbl.Name, ctx.Err()), Err: ctx.Err()}
			}
			skipped++
		}
	}
	return skipped, nil
}

// loadParquet stages a parquet-backed dataset from the object store to a
// local file and lets the engine bulk-load it.
func (s *Service) loadParquet(ctx context.Context, sess *session, tbl catalog.Table, physical string) error {
	if s.objects == nil {
		return errf(KindProvisionError, "table %q is parquet-backed but no object store is configured", tbl.Name)
	}
	reader, err := s.objects.Get(ctx, tbl.ObjectPath)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return &Error{Kind: KindProvisionError, Message: fmt.Sprintf("dataset object %q is missing from the object store", tbl.ObjectPath), Err: err}
		}
		return &Error{Kind: KindProvisionError, Message: fmt.Sprintf("fetch dataset object %q: %v", tbl.ObjectPath, err), Err: err}
	}
	defer func() { _ = reader.Close() }()

	workDir, err := os.MkdirTemp("", "sqlarena-load-")
	if err != nil {
		return &Error{Kind: KindProvisionError, Message: "create staging dir", Err: err}
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	localPath := filepath.Join(workDir, "data.parquet")
	if err := writeFile(localPath, reader); err != nil {
		return &Error{Kind: KindProvisionError, Message: fmt.Sprintf("stage dataset object %q", tbl.ObjectPath), Err: err}
	}

	loadSQL := fmt.Sprintf("INSERT INTO %s SELECT * FROM read_parquet(%s)", quoteIdent(physical), quoteString(localPath))
	if _, err := sess.conn.ExecContext(ctx, loadSQL); err != nil {
		return &Error{Kind: KindProvisionError, Message: fmt.Sprintf("bulk-load table %q: %v", tbl.Name, err), Err: err}
	}
	return nil
}

// Teardown drops the session's physical tables, releases its engine
// connection and removes it from the registry. Callers ensure no query is in
// flight.
func (s *Service) Teardown(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	sess := s.sessions[sessionID]
	if sess == nil {
		s.mu.Unlock()
		return fmt.Errorf("session %q not found", sessionID)
	}
	delete(s.sessions, sessionID)
	delete(s.byProblem, sess.problemID)
	s.mu.Unlock()

	var errs []error
	for _, physical := range sess.physicalNames() {
		if _, err := sess.conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(physical)); err != nil {
			errs = append(errs, fmt.Errorf("drop table %q: %w", physical, err))
		}
	}
	if err := sess.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close engine connection: %w", err))
	}
	observability.SessionEnded()
	s.logger.Info("session torn down", "session_id", sessionID, "problem_id", sess.problemID)
	return errors.Join(errs...)
}

// ColumnInfo describes one column as the engine reports it.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// DescribeSchema returns the session's tables keyed by logical name, with
// columns in engine order. Physical identifiers never leave the sandbox.
func (s *Service) DescribeSchema(ctx context.Context, sessionID string) (map[string][]ColumnInfo, error) {
	sess := s.lookup(sessionID)
	if sess == nil {
		return nil, fmt.Errorf("session %q not found", sessionID)
	}

	physicals := sess.physicalNames()
	logicalOf := make(map[string]string, len(physicals))
	for _, tbl := range sess.tables {
		logicalOf[sess.physical[strings.ToLower(tbl.Name)]] = tbl.Name
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(physicals)), ", ")
	args := make([]any, 0, len(physicals))
	for _, name := range physicals {
		args = append(args, name)
	}
	query := fmt.Sprintf(`
SELECT table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema = 'main' AND table_name IN (%s)
ORDER BY table_name, ordinal_position`, placeholders)

	rows, err := sess.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("describe schema: %w", err)
	}
	defer func() { _ = rows.Close() }()

	schema := make(map[string][]ColumnInfo, len(physicals))
	for rows.Next() {
		var tableName, columnName, dataType string
		if err := rows.Scan(&tableName, &columnName, &dataType); err != nil {
			return nil, fmt.Errorf("scan schema row: %w", err)
		}
		logical, ok := logicalOf[tableName]
		if !ok {
			continue
		}
		schema[logical] = append(schema[logical], ColumnInfo{Name: columnName, Type: dataType})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema rows: %w", err)
	}
	return schema, nil
}

func totalSkipped(sess *session) int {
	total := 0
	for _, n := range sess.skipped {
		total += n
	}
	return total
}

// coerceRow fits one catalog row to the declared schema; any mismatch skips
// the whole row.
func coerceRow(columns []catalog.Column, row []any) ([]any, bool) {
	if len(row) != len(columns) {
		return nil, false
	}
	values := make([]any, len(row))
	for i, col := range columns {
		value, ok := coerceValue(col.Type, row[i])
		if !ok {
			return nil, false
		}
		values[i] = value
	}
	return values, true
}

func coerceValue(declared catalog.ColumnType, value any) (any, bool) {
	if value == nil {
		return nil, true
	}
	switch declared {
	case catalog.TypeInteger:
		switch typed := value.(type) {
		case float64:
			if typed != math.Trunc(typed) {
				return nil, false
			}
			return int64(typed), true
		case string:
			parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
			if err != nil {
				return nil, false
			}
			return parsed, true
		}
	case catalog.TypeReal:
		switch typed := value.(type) {
		case float64:
			return typed, true
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
			if err != nil {
				return nil, false
			}
			return parsed, true
		}
	case catalog.TypeText:
		switch typed := value.(type) {
		case string:
			return typed, true
		case float64:
			return strconv.FormatFloat(typed, 'g', -1, 64), true
		case bool:
			return strconv.FormatBool(typed), true
		}
	case catalog.TypeDate:
		if typed, ok := value.(string); ok {
			parsed, err := time.Parse("2006-01-02", strings.TrimSpace(typed))
			if err != nil {
				return nil, false
			}
			return parsed, true
		}
	}
	return nil, false
}

func writeFile(path string, reader io.Reader) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	if _, err := io.Copy(file, reader); err != nil {
		return err
	}
	return nil
}
