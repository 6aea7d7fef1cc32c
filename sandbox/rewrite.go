package sandbox

import (
	"strings"

	"github.com/sqlarena/sqlarena/sqltoken"
)

// rewrite replaces logical table names with their tenant-scoped physical
// identifiers. It splices over the exact token ranges the scope check
// inspected, so a query that validated also rewrites consistently: names
// inside string literals, comments, column positions or CTE definitions are
// never touched.
func rewrite(sql string, refs []sqltoken.TableRef, ctes sqltoken.CTEScope, namespace map[string]string) string {
	var b strings.Builder
	last := 0
	for _, ref := range refs {
		if ref.Literal || ref.Function || ref.Qualified {
			continue
		}
		name := strings.ToLower(ref.Name)
		if ctes.Visible(name, ref.Token.Start) {
			continue
		}
		physical, ok := namespace[name]
		if !ok {
			continue
		}
		tok := ref.Token
		b.WriteString(sql[last:tok.Start])
		if tok.Kind == sqltoken.KindQuotedIdent {
			b.WriteString(`"` + physical + `"`)
		} else {
			b.WriteString(physical)
		}
		last = tok.End
	}
	b.WriteString(sql[last:])
	return b.String()
}
