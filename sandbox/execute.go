package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sqlarena/sqlarena/observability"
	"github.com/sqlarena/sqlarena/sqltoken"
)

// Run executes one candidate query against the session's tables and returns
// its outcome. The query is validated and rewritten before the engine sees
// it, capped at the configured row limit and cancelled at the configured
// timeout. A session runs one query at a time; a second submission while one
// is in flight is rejected, not queued.
func (s *Service) Run(ctx context.Context, sessionID string, rawSQL string) Outcome {
	start := time.Now()

	sess := s.lookup(sessionID)
	if sess == nil {
		return s.finish(failure(KindInternal, "session not found: provision the problem first", time.Since(start)), sessionID, rawSQL)
	}
	if !sess.busy.CompareAndSwap(false, true) {
		return s.finish(failure(KindBusy, "a query is already running in this session", time.Since(start)), sessionID, rawSQL)
	}
	defer sess.busy.Store(false)

	tokens := sqltoken.Scan(rawSQL)
	refs := sqltoken.TableRefs(tokens)
	ctes := sqltoken.CTEScopes(tokens)
	if verr := validate(tokens, refs, ctes, sess.allowed); verr != nil {
		return s.finish(failure(verr.Kind, verr.Message, time.Since(start)), sessionID, rawSQL)
	}

	query := rewrite(rawSQL, refs, ctes, sess.physical)
	query = capRows(query, tokens, s.rowCap)

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := sess.conn.QueryContext(runCtx, query)
	if err != nil {
		return s.finish(s.classify(err, runCtx, time.Since(start)), sessionID, rawSQL)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return s.finish(s.classify(err, runCtx, time.Since(start)), sessionID, rawSQL)
	}

	results := make([]map[string]any, 0, 64)
	values := make([]any, len(columns))
	scanArgs := make([]any, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}
	for rows.Next() {
		if len(results) >= s.rowCap {
			break
		}
		if err := rows.Scan(scanArgs...); err != nil {
			return s.finish(s.classify(err, runCtx, time.Since(start)), sessionID, rawSQL)
		}
		results = append(results, normalizeRow(columns, values))
	}
	if err := rows.Err(); err != nil {
		return s.finish(s.classify(err, runCtx, time.Since(start)), sessionID, rawSQL)
	}

	return s.finish(success(columns, results, time.Since(start)), sessionID, rawSQL)
}

// capRows wraps a row-producing statement so the engine itself never
// materialises more than the cap. Statements that already carry a LIMIT
// anywhere are left alone; either way the scan loop stops at the cap.
func capRows(query string, tokens []sqltoken.Token, limit int) string {
	if len(tokens) == 0 || hasLimit(tokens) {
		return query
	}
	switch tokens[0].Word() {
	case "select", "with", "from", "values":
		return fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", stripTrailingSemicolons(query), limit)
	}
	return query
}

func stripTrailingSemicolons(query string) string {
	trimmed := strings.TrimRight(query, " \t\r\n")
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimRight(strings.TrimSuffix(trimmed, ";"), " \t\r\n")
	}
	return trimmed
}

// classify maps an engine failure onto an ErrorKind. Engine diagnostics go
// back verbatim so the candidate can fix their SQL; infrastructure failures
// are logged in full and surfaced generically.
func (s *Service) classify(err error, runCtx context.Context, elapsed time.Duration) Outcome {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return failure(KindTimeout, fmt.Sprintf("query exceeded the %s time limit: simplify the query and try again", s.timeout), elapsed)
	case errors.Is(err, context.Canceled):
		return failure(KindInternal, "query was cancelled", elapsed)
	case errors.Is(err, sql.ErrConnDone):
		s.logger.Error("engine connection lost", "error", err)
		return failure(KindInternal, "query execution failed", elapsed)
	default:
		return failure(KindEngineError, err.Error(), elapsed)
	}
}

func (s *Service) finish(out Outcome, sessionID, rawSQL string) Outcome {
	outcome := "success"
	if !out.Success {
		outcome = string(out.Kind)
	}
	observability.ObserveQuery(outcome, len(out.Rows), out.Elapsed)
	if out.Success {
		s.logger.Debug("query executed",
			"session_id", sessionID,
			"rows", len(out.Rows),
			"elapsed", out.Elapsed,
		)
	} else {
		s.logger.Debug("query rejected or failed",
			"session_id", sessionID,
			"kind", string(out.Kind),
			"message", out.Message,
			"sql", rawSQL,
			"elapsed", out.Elapsed,
		)
	}
	return out
}
