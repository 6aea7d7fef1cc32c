package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sqlarena/sqlarena/catalog"
)

type fakeSource struct {
	tables map[int][]catalog.Table
	rows   map[string][][]any
}

func (f *fakeSource) GetTables(_ context.Context, problemID int) ([]catalog.Table, error) {
	return f.tables[problemID], nil
}

func (f *fakeSource) GetRows(_ context.Context, problemID int, tableName string) ([][]any, error) {
	return f.rows[fmt.Sprintf("%d/%s", problemID, tableName)], nil
}

// interviewSource seeds the classic two-table problem plus a second problem
// sharing a table name, so isolation is observable.
func interviewSource() *fakeSource {
	customers := []catalog.Column{
		{Name: "customer_id", Type: catalog.TypeInteger},
		{Name: "name", Type: catalog.TypeText},
		{Name: "signup_date", Type: catalog.TypeDate},
		{Name: "balance", Type: catalog.TypeReal},
	}
	orders := []catalog.Column{
		{Name: "order_id", Type: catalog.TypeInteger},
		{Name: "customer_id", Type: catalog.TypeInteger},
		{Name: "amount", Type: catalog.TypeReal},
	}
	return &fakeSource{
		tables: map[int][]catalog.Table{
			3: {
				{ProblemID: 3, Name: "customers", Columns: customers},
				{ProblemID: 3, Name: "orders", Columns: orders},
			},
			4: {
				{ProblemID: 4, Name: "customers", Columns: customers},
			},
		},
		rows: map[string][][]any{
			"3/customers": {
				{float64(1), "Ada", "2023-01-02", float64(10.5)},
				{float64(2), "Grace", "2023-02-10", float64(99)},
			},
			"3/orders": {
				{float64(100), float64(1), float64(25)},
				{float64(101), float64(1), float64(75)},
				{float64(102), float64(2), float64(5)},
			},
			"4/customers": {
				{float64(1), "Linus", "2024-06-01", float64(0)},
			},
		},
	}
}

func newTestService(t *testing.T, source catalog.Source, opts Options) *Service {
	t.Helper()
	svc, err := New(source, opts)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() {
		if err := svc.Close(); err != nil {
			t.Errorf("close service: %v", err)
		}
	})
	return svc
}

func mustProvision(t *testing.T, svc *Service, problemID int) string {
	t.Helper()
	id, err := svc.Provision(context.Background(), problemID)
	if err != nil {
		t.Fatalf("provision problem %d: %v", problemID, err)
	}
	return id
}

func mustRun(t *testing.T, svc *Service, sessionID, rawSQL string) Outcome {
	t.Helper()
	out := svc.Run(context.Background(), sessionID, rawSQL)
	if !out.Success {
		t.Fatalf("query %q failed: %s %s", rawSQL, out.Kind, out.Message)
	}
	return out
}

func TestProvisionAndQuery(t *testing.T) {
	svc := newTestService(t, interviewSource(), Options{})
	id := mustProvision(t, svc, 3)

	out := mustRun(t, svc, id, "SELECT name FROM customers WHERE customer_id = 1")
	if len(out.Rows) != 1 || out.Rows[0]["name"] != "Ada" {
		t.Fatalf("rows = %v", out.Rows)
	}
	if len(out.Columns) != 1 || out.Columns[0] != "name" {
		t.Fatalf("columns = %v", out.Columns)
	}

	out = mustRun(t, svc, id,
		"SELECT c.name, SUM(o.amount) AS total FROM customers c JOIN orders o ON c.customer_id = o.customer_id GROUP BY c.name ORDER BY total DESC")
	if len(out.Rows) != 2 {
		t.Fatalf("rows = %v", out.Rows)
	}
	if out.Rows[0]["name"] != "Ada" || out.Rows[0]["total"] != float64(100) {
		t.Fatalf("top row = %v", out.Rows[0])
	}
}

func TestDateColumnsAreCalendarDates(t *testing.T) {
	svc := newTestService(t, interviewSource(), Options{})
	id := mustProvision(t, svc, 3)

	out := mustRun(t, svc, id, "SELECT signup_date FROM customers WHERE customer_id = 1")
	if out.Rows[0]["signup_date"] != "2023-01-02" {
		t.Fatalf("signup_date = %v", out.Rows[0]["signup_date"])
	}
}

func TestCrossTenantIsolation(t *testing.T) {
	svc := newTestService(t, interviewSource(), Options{})
	id3 := mustProvision(t, svc, 3)
	id4 := mustProvision(t, svc, 4)

	out := mustRun(t, svc, id3, "SELECT count(*) AS n FROM customers")
	if out.Rows[0]["n"] != int64(2) {
		t.Fatalf("problem 3 customer count = %v", out.Rows[0]["n"])
	}
	out = mustRun(t, svc, id4, "SELECT count(*) AS n FROM customers")
	if out.Rows[0]["n"] != int64(1) {
		t.Fatalf("problem 4 customer count = %v", out.Rows[0]["n"])
	}

	// guessing the neighbour's physical identifier does not help
	for _, q := range []string{
		"SELECT * FROM customers_4",
		"SELECT * FROM main.customers_4",
		`SELECT * FROM "customers_4"`,
	} {
		res := svc.Run(context.Background(), id3, q)
		if res.Success || res.Kind != KindOutOfScopeTable {
			t.Fatalf("query %q: got %+v, want out_of_scope_table", q, res)
		}
	}

	// orders exists only in problem 3
	res := svc.Run(context.Background(), id4, "SELECT * FROM orders")
	if res.Success || res.Kind != KindOutOfScopeTable {
		t.Fatalf("got %+v, want out_of_scope_table", res)
	}
}

func TestSubqueryCTECannotLaunderNeighborTable(t *testing.T) {
	svc := newTestService(t, interviewSource(), Options{})
	id3 := mustProvision(t, svc, 3)
	mustProvision(t, svc, 4)

	// a CTE named like the neighbor's physical table is scoped to its
	// subquery; the outer reference must still hit the scope check
	q := "SELECT outer_ref.name FROM (SELECT 1 AS x FROM (WITH customers_4 AS (SELECT 1 AS y) SELECT * FROM customers_4) inner_t) t, customers_4 AS outer_ref"
	res := svc.Run(context.Background(), id3, q)
	if res.Success || res.Kind != KindOutOfScopeTable {
		t.Fatalf("got %+v, want out_of_scope_table", res)
	}
}

func TestSecondStatementCannotReachEngine(t *testing.T) {
	svc := newTestService(t, interviewSource(), Options{})
	id := mustProvision(t, svc, 3)

	before := mustRun(t, svc, id, "SELECT current_setting('memory_limit') AS v")

	res := svc.Run(context.Background(), id, "SELECT 1 AS x LIMIT 1; SET memory_limit='123MB'")
	if res.Success || res.Kind != KindMutationAttempt {
		t.Fatalf("got %+v, want mutation_attempt", res)
	}

	after := mustRun(t, svc, id, "SELECT current_setting('memory_limit') AS v")
	if after.Rows[0]["v"] != before.Rows[0]["v"] {
		t.Fatalf("engine setting changed by rejected statement: %v -> %v", before.Rows[0]["v"], after.Rows[0]["v"])
	}
}

func TestMutationRejectedAndTableIntact(t *testing.T) {
	svc := newTestService(t, interviewSource(), Options{})
	id := mustProvision(t, svc, 3)

	for _, q := range []string{
		"DROP TABLE customers",
		"DELETE FROM customers",
		"UPDATE customers SET balance = 0",
		"INSERT INTO customers VALUES (9, 'Eve', DATE '2024-01-01', 1)",
	} {
		res := svc.Run(context.Background(), id, q)
		if res.Success || res.Kind != KindMutationAttempt {
			t.Fatalf("query %q: got %+v, want mutation_attempt", q, res)
		}
	}

	out := mustRun(t, svc, id, "SELECT count(*) AS n FROM customers")
	if out.Rows[0]["n"] != int64(2) {
		t.Fatalf("customers mutated: count = %v", out.Rows[0]["n"])
	}
}

func TestRowCap(t *testing.T) {
	svc := newTestService(t, interviewSource(), Options{RowCap: 100})
	id := mustProvision(t, svc, 3)

	out := mustRun(t, svc, id, "SELECT * FROM range(100000)")
	if len(out.Rows) != 100 {
		t.Fatalf("rows = %d, want 100", len(out.Rows))
	}

	out = mustRun(t, svc, id, "SELECT * FROM range(100000) LIMIT 7")
	if len(out.Rows) != 7 {
		t.Fatalf("explicit limit: rows = %d, want 7", len(out.Rows))
	}

	// a LIMIT above the cap is still truncated by the scan loop
	out = mustRun(t, svc, id, "SELECT * FROM range(100000) LIMIT 500")
	if len(out.Rows) != 100 {
		t.Fatalf("oversized limit: rows = %d, want 100", len(out.Rows))
	}
}

func TestReprovisionIsIdempotent(t *testing.T) {
	svc := newTestService(t, interviewSource(), Options{})
	first := mustProvision(t, svc, 3)
	second := mustProvision(t, svc, 3)
	if first != second {
		t.Fatalf("re-provision returned a new session: %s vs %s", first, second)
	}

	out := mustRun(t, svc, second, "SELECT count(*) AS n FROM customers")
	if out.Rows[0]["n"] != int64(2) {
		t.Fatalf("customer count after re-provision = %v", out.Rows[0]["n"])
	}
}

func TestReprovisionWhileQueryRunningIsRejected(t *testing.T) {
	svc := newTestService(t, interviewSource(), Options{})
	id := mustProvision(t, svc, 3)

	sess := svc.lookup(id)
	sess.busy.Store(true)
	_, err := svc.Provision(context.Background(), 3)
	var serr *Error
	if !errors.As(err, &serr) || serr.Kind != KindBusy {
		t.Fatalf("got %v, want busy", err)
	}
	sess.busy.Store(false)

	if again := mustProvision(t, svc, 3); again != id {
		t.Fatalf("session id changed: %s vs %s", id, again)
	}
	mustRun(t, svc, id, "SELECT count(*) AS n FROM customers")
}

func TestEngineErrorIsVerbatim(t *testing.T) {
	svc := newTestService(t, interviewSource(), Options{})
	id := mustProvision(t, svc, 3)

	res := svc.Run(context.Background(), id, "SELECT no_such_column FROM customers")
	if res.Success || res.Kind != KindEngineError {
		t.Fatalf("got %+v, want engine_error", res)
	}
	if !strings.Contains(res.Message, "no_such_column") {
		t.Fatalf("diagnostic lost: %q", res.Message)
	}
}

func TestTimeoutLeavesSessionHealthy(t *testing.T) {
	svc := newTestService(t, interviewSource(), Options{})
	id := mustProvision(t, svc, 3)

	expired, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	res := svc.Run(expired, id, "SELECT count(*) FROM customers")
	if res.Success || res.Kind != KindTimeout {
		t.Fatalf("got %+v, want timeout", res)
	}

	out := mustRun(t, svc, id, "SELECT count(*) AS n FROM customers")
	if out.Rows[0]["n"] != int64(2) {
		t.Fatalf("session unhealthy after timeout: %v", out.Rows)
	}
}

func TestTimeoutCancelsSlowQuery(t *testing.T) {
	svc := newTestService(t, interviewSource(), Options{QueryTimeout: 200 * time.Millisecond})
	id := mustProvision(t, svc, 3)

	// far more work than 200ms allows; the driver must cancel it mid-flight
	res := svc.Run(context.Background(), id,
		"SELECT sum(a.range * b.range) AS s FROM range(200000) a, range(200000) b")
	if res.Success || res.Kind != KindTimeout {
		t.Fatalf("got %+v, want timeout", res)
	}
	if res.Elapsed > 10*time.Second {
		t.Fatalf("cancellation took %s", res.Elapsed)
	}

	out := mustRun(t, svc, id, "SELECT count(*) AS n FROM customers")
	if out.Rows[0]["n"] != int64(2) {
		t.Fatalf("session unhealthy after cancelled query: %v", out.Rows)
	}
}

func TestBusySessionRejectsSecondQuery(t *testing.T) {
	svc := newTestService(t, interviewSource(), Options{})
	id := mustProvision(t, svc, 3)

	sess := svc.lookup(id)
	sess.busy.Store(true)
	res := svc.Run(context.Background(), id, "SELECT 1 FROM customers")
	if res.Success || res.Kind != KindBusy {
		t.Fatalf("got %+v, want busy", res)
	}
	sess.busy.Store(false)

	mustRun(t, svc, id, "SELECT 1 AS one FROM customers LIMIT 1")
}

func TestUnknownSession(t *testing.T) {
	svc := newTestService(t, interviewSource(), Options{})
	res := svc.Run(context.Background(), "nope", "SELECT 1")
	if res.Success || res.Kind != KindInternal {
		t.Fatalf("got %+v, want internal", res)
	}
}

func TestTeardownRemovesTables(t *testing.T) {
	svc := newTestService(t, interviewSource(), Options{})
	id := mustProvision(t, svc, 3)

	if err := svc.Teardown(context.Background(), id); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	res := svc.Run(context.Background(), id, "SELECT * FROM customers")
	if res.Success || res.Kind != KindInternal {
		t.Fatalf("got %+v, want internal after teardown", res)
	}

	var n int
	err := svc.db.QueryRowContext(context.Background(),
		"SELECT count(*) FROM information_schema.tables WHERE table_name IN ('customers_3', 'orders_3')").Scan(&n)
	if err != nil {
		t.Fatalf("inspect engine catalog: %v", err)
	}
	if n != 0 {
		t.Fatalf("%d physical tables left behind", n)
	}

	if err := svc.Teardown(context.Background(), id); err == nil {
		t.Fatal("second teardown succeeded")
	}
}

func TestProvisionUnknownProblem(t *testing.T) {
	svc := newTestService(t, interviewSource(), Options{})
	_, err := svc.Provision(context.Background(), 99)
	if err == nil {
		t.Fatal("provisioning an unknown problem succeeded")
	}
	var serr *Error
	if !errors.As(err, &serr) || serr.Kind != KindProvisionError {
		t.Fatalf("got %v, want provision_error", err)
	}
}

func TestDescribeSchema(t *testing.T) {
	svc := newTestService(t, interviewSource(), Options{})
	id := mustProvision(t, svc, 3)

	schema, err := svc.DescribeSchema(context.Background(), id)
	if err != nil {
		t.Fatalf("describe schema: %v", err)
	}
	if len(schema) != 2 {
		t.Fatalf("schema tables = %v", schema)
	}
	cols := schema["customers"]
	if len(cols) != 4 || cols[0].Name != "customer_id" || cols[0].Type != "INTEGER" {
		t.Fatalf("customers columns = %v", cols)
	}
	for name := range schema {
		if strings.Contains(name, "_3") {
			t.Fatalf("physical identifier leaked: %q", name)
		}
	}
}
