package sandbox

import (
	"strings"
	"testing"

	"github.com/sqlarena/sqlarena/sqltoken"
)

func checkQuery(rawSQL string, allowed map[string]bool) *Error {
	tokens := sqltoken.Scan(rawSQL)
	return validate(tokens, sqltoken.TableRefs(tokens), sqltoken.CTEScopes(tokens), allowed)
}

func TestValidateAcceptsReads(t *testing.T) {
	allowed := map[string]bool{"customers": true, "orders": true}
	queries := []string{
		"SELECT * FROM customers",
		"select name from customers where customer_id = 1",
		"WITH big AS (SELECT * FROM orders WHERE amount > 100) SELECT * FROM big",
		"SELECT c.name, o.amount FROM customers c JOIN orders o ON c.customer_id = o.customer_id",
		"SELECT 'drop table customers' AS note FROM customers",
		"SELECT * FROM range(10)",
		"EXPLAIN SELECT * FROM orders",
	}
	for _, q := range queries {
		if err := checkQuery(q, allowed); err != nil {
			t.Fatalf("query %q rejected: %s %s", q, err.Kind, err.Message)
		}
	}
}

func TestValidateRejectsMutations(t *testing.T) {
	allowed := map[string]bool{"customers": true}
	cases := []struct {
		sql  string
		want string
	}{
		{"DROP TABLE customers", "DROP"},
		{"delete from customers", "DELETE"},
		{"INSERT INTO customers VALUES (1)", "INSERT"},
		{"PRAGMA database_list", "PRAGMA"},
		{"SET memory_limit = '100GB'", "SET"},
	}
	for _, tc := range cases {
		err := checkQuery(tc.sql, allowed)
		if err == nil {
			t.Fatalf("query %q accepted", tc.sql)
		}
		if err.Kind != KindMutationAttempt {
			t.Fatalf("query %q: kind = %s, want %s", tc.sql, err.Kind, KindMutationAttempt)
		}
		if !strings.Contains(err.Message, tc.want) {
			t.Fatalf("query %q: message %q does not name %s", tc.sql, err.Message, tc.want)
		}
	}
}

func TestValidateKeywordMatchingIsWholeToken(t *testing.T) {
	allowed := map[string]bool{"update_log": true}
	if err := checkQuery("SELECT * FROM update_log", allowed); err != nil {
		t.Fatalf("column-like identifier tripped the denylist: %s", err.Message)
	}
	if err := checkQuery("SELECT 'please DROP this' FROM update_log", allowed); err != nil {
		t.Fatalf("keyword inside string literal tripped the denylist: %s", err.Message)
	}
	if err := checkQuery("SELECT 1 FROM update_log -- drop table x", allowed); err != nil {
		t.Fatalf("keyword inside comment tripped the denylist: %s", err.Message)
	}
}

func TestValidateScopeCheck(t *testing.T) {
	allowed := map[string]bool{"customers": true}
	cases := []string{
		"SELECT * FROM orders",
		"SELECT * FROM customers_7",
		"SELECT * FROM customers JOIN secrets ON true",
		"SELECT * FROM main.customers",
		"SELECT * FROM 'data.csv'",
		"SELECT * FROM read_csv('/etc/passwd')",
	}
	for _, q := range cases {
		err := checkQuery(q, allowed)
		if err == nil {
			t.Fatalf("query %q accepted", q)
		}
		if err.Kind != KindOutOfScopeTable {
			t.Fatalf("query %q: kind = %s, want %s", q, err.Kind, KindOutOfScopeTable)
		}
	}
}

func TestValidateRejectsMultipleStatements(t *testing.T) {
	allowed := map[string]bool{"customers": true}
	rejected := []string{
		"SELECT * FROM customers; DROP TABLE customers",
		"SELECT 1 AS x LIMIT 1; SET memory_limit='123MB'",
		"SELECT * FROM customers; SELECT * FROM customers",
	}
	for _, q := range rejected {
		err := checkQuery(q, allowed)
		if err == nil || err.Kind != KindMutationAttempt {
			t.Fatalf("query %q: got %+v, want mutation_attempt", q, err)
		}
	}

	accepted := []string{
		"SELECT * FROM customers;",
		"SELECT * FROM customers ; ;",
		"SELECT ';' AS s FROM customers",
	}
	for _, q := range accepted {
		if err := checkQuery(q, allowed); err != nil {
			t.Fatalf("query %q rejected: %s %s", q, err.Kind, err.Message)
		}
	}
}

func TestValidateCTEScopeEndsAtSubquery(t *testing.T) {
	allowed := map[string]bool{"customers": true}

	// the WITH inside the subquery must not legitimize the outer reference
	q := "SELECT t.y FROM (WITH secrets AS (SELECT 1 AS y) SELECT * FROM secrets) t, secrets"
	err := checkQuery(q, allowed)
	if err == nil || err.Kind != KindOutOfScopeTable {
		t.Fatalf("got %+v, want out_of_scope_table", err)
	}

	inScope := "SELECT t.y FROM (WITH helper AS (SELECT 1 AS y) SELECT * FROM helper) t"
	if err := checkQuery(inScope, allowed); err != nil {
		t.Fatalf("scoped CTE rejected: %s %s", err.Kind, err.Message)
	}
}

func TestValidateCTEShadowsAllowedName(t *testing.T) {
	allowed := map[string]bool{"customers": true}
	q := "WITH customers AS (SELECT 1 AS customer_id) SELECT * FROM customers"
	if err := checkQuery(q, allowed); err != nil {
		t.Fatalf("CTE reference rejected: %s", err.Message)
	}
}

func TestValidateEmptyQuery(t *testing.T) {
	err := checkQuery("   -- nothing here", map[string]bool{})
	if err == nil || err.Kind != KindEngineError {
		t.Fatalf("empty query: got %+v, want engine_error", err)
	}
}

func TestRewriteTableNames(t *testing.T) {
	namespace := map[string]string{"customers": "customers_3", "orders": "orders_3"}
	cases := []struct {
		in   string
		want string
	}{
		{
			"SELECT * FROM customers",
			"SELECT * FROM customers_3",
		},
		{
			"SELECT c.name FROM customers c JOIN orders o ON c.customer_id = o.customer_id",
			"SELECT c.name FROM customers_3 c JOIN orders_3 o ON c.customer_id = o.customer_id",
		},
		{
			`SELECT * FROM "customers"`,
			`SELECT * FROM "customers_3"`,
		},
		{
			"SELECT 'customers' FROM orders",
			"SELECT 'customers' FROM orders_3",
		},
		{
			"WITH customers AS (SELECT * FROM orders) SELECT * FROM customers",
			"WITH customers AS (SELECT * FROM orders_3) SELECT * FROM customers",
		},
		{
			"SELECT * FROM range(10)",
			"SELECT * FROM range(10)",
		},
		{
			"SELECT * FROM (WITH orders AS (SELECT 1) SELECT * FROM orders) t, orders",
			"SELECT * FROM (WITH orders AS (SELECT 1) SELECT * FROM orders) t, orders_3",
		},
	}
	for _, tc := range cases {
		tokens := sqltoken.Scan(tc.in)
		got := rewrite(tc.in, sqltoken.TableRefs(tokens), sqltoken.CTEScopes(tokens), namespace)
		if got != tc.want {
			t.Fatalf("rewrite(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCapRows(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{
			"SELECT * FROM customers_3",
			"SELECT * FROM (SELECT * FROM customers_3) AS q LIMIT 5000",
		},
		{
			"SELECT * FROM customers_3;",
			"SELECT * FROM (SELECT * FROM customers_3) AS q LIMIT 5000",
		},
		{
			"SELECT * FROM customers_3 LIMIT 10",
			"SELECT * FROM customers_3 LIMIT 10",
		},
		{
			"WITH t AS (SELECT 1) SELECT * FROM t",
			"SELECT * FROM (WITH t AS (SELECT 1) SELECT * FROM t) AS q LIMIT 5000",
		},
		{
			"EXPLAIN SELECT * FROM customers_3",
			"EXPLAIN SELECT * FROM customers_3",
		},
	}
	for _, tc := range cases {
		got := capRows(tc.in, sqltoken.Scan(tc.in), 5000)
		if got != tc.want {
			t.Fatalf("capRows(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestStripTrailingSemicolons(t *testing.T) {
	got := stripTrailingSemicolons("SELECT 1 ; ;\n")
	if got != "SELECT 1" {
		t.Fatalf("got %q", got)
	}
}
