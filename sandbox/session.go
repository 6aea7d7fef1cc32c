package sandbox

import (
	"database/sql"
	"strings"
	"sync/atomic"

	"github.com/sqlarena/sqlarena/catalog"
)

// session is one tenant's execution context: its table namespace plus the
// single pinned engine connection all of its queries run on. Sessions are
// created and destroyed only by Provision and Teardown.
type session struct {
	id        string
	problemID int
	tables    []catalog.Table   // catalog order
	allowed   map[string]bool   // lower-cased logical names
	physical  map[string]string // lower-cased logical name -> physical identifier
	conn      *sql.Conn
	busy      atomic.Bool
	skipped   map[string]int // logical name -> rows skipped at provisioning
}

func (s *session) physicalNames() []string {
	names := make([]string, 0, len(s.tables))
	for _, tbl := range s.tables {
		names = append(names, s.physical[strings.ToLower(tbl.Name)])
	}
	return names
}
