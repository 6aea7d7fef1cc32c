package sandbox

import (
	"strings"

	"github.com/sqlarena/sqlarena/sqltoken"
)

// denylist holds statement keywords that mutate data or schema. Matching is
// whole-token: a column named update_log never trips it, and neither does a
// keyword buried in a string literal, because the tokenizer already removed
// literals and comments from keyword positions.
var denylist = map[string]bool{
	"drop": true, "delete": true, "update": true, "insert": true,
	"alter": true, "create": true, "truncate": true, "replace": true,
	"attach": true, "detach": true,
}

// readVerbs are the statement-leading words a candidate query may start
// with. Everything else (PRAGMA, SET, CALL, ...) is rejected up front; the
// denylist alone does not cover engine-level state changes.
var readVerbs = map[string]bool{
	"select": true, "with": true, "from": true, "values": true,
	"describe": true, "show": true, "explain": true, "summarize": true,
}

// tableFunctions is the small set of generator functions a candidate may use
// in a FROM clause. File readers (read_csv, read_parquet, glob, ...) stay
// out: they reach past the tenant's tables.
var tableFunctions = map[string]bool{
	"range": true, "generate_series": true, "unnest": true,
}

// validate runs the mandatory checks over one shared token stream: single
// statement only, the mutation/DDL denylist, and the table scope check. Any
// may reject. The denylist stops writes; the scope check is what enforces
// tenancy.
func validate(tokens []sqltoken.Token, refs []sqltoken.TableRef, ctes sqltoken.CTEScope, allowed map[string]bool) *Error {
	if len(tokens) == 0 {
		return errf(KindEngineError, "empty query")
	}

	if err := singleStatement(tokens); err != nil {
		return err
	}
	if first := tokens[0].Word(); !readVerbs[first] {
		return errf(KindMutationAttempt, "statement %q is not allowed: only read-only queries may be submitted", strings.ToUpper(first))
	}
	for _, tok := range tokens {
		if word := tok.Word(); denylist[word] {
			return errf(KindMutationAttempt, "forbidden keyword %s: only read-only queries may be submitted", strings.ToUpper(word))
		}
	}

	for _, ref := range refs {
		name := strings.ToLower(ref.Name)
		switch {
		case ref.Literal:
			return errf(KindOutOfScopeTable, "file source %q is not allowed: query the problem tables instead", ref.Name)
		case ref.Function:
			if !tableFunctions[name] {
				return errf(KindOutOfScopeTable, "table function %q is not allowed", ref.Name)
			}
		case ctes.Visible(name, ref.Token.Start):
			// reference to a CTE defined by the query itself
		case ref.Qualified:
			return errf(KindOutOfScopeTable, "table %q is not available in this problem", ref.Name)
		case !allowed[name]:
			return errf(KindOutOfScopeTable, "table %q is not available in this problem", ref.Name)
		}
	}
	return nil
}

// singleStatement rejects any semicolon that has real tokens after it, so
// the read checks cannot be bypassed by tacking a second statement onto a
// valid query. Trailing semicolons are harmless and allowed.
func singleStatement(tokens []sqltoken.Token) *Error {
	for i, tok := range tokens {
		if tok.Kind != sqltoken.KindSymbol || tok.Text != ";" {
			continue
		}
		for _, rest := range tokens[i+1:] {
			if rest.Kind != sqltoken.KindSymbol || rest.Text != ";" {
				return errf(KindMutationAttempt, "multiple statements are not allowed: submit one query at a time")
			}
		}
		return nil
	}
	return nil
}

// hasLimit reports whether the statement carries an explicit row-limiting
// clause anywhere.
func hasLimit(tokens []sqltoken.Token) bool {
	for _, tok := range tokens {
		if tok.Word() == "limit" {
			return true
		}
	}
	return false
}
