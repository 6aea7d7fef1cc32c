package sqltoken

import "strings"

// TableRef is a reference found in a table position: after FROM, JOIN or
// INTO, or after a comma inside an open FROM list. References inside string
// literals or comments never appear here because the scanner drops them from
// identifier positions.
type TableRef struct {
	Token     Token  // first identifier token of the reference
	Name      string // normalized name; qualified chains joined with '.'
	Qualified bool   // schema- or database-qualified (a.b)
	Function  bool   // invoked as a table function, e.g. read_csv(...)
	Literal   bool   // a string literal in table position, e.g. FROM 'x.parquet'
}

// fromListTerminators are words that close a FROM list at the depth it was
// opened, so that later commas at that depth are no longer table separators.
var fromListTerminators = map[string]bool{
	"where": true, "group": true, "having": true, "window": true,
	"qualify": true, "order": true, "limit": true, "offset": true,
	"union": true, "except": true, "intersect": true, "select": true,
}

// TableRefs walks the token stream and returns every reference in a table
// position, in source order. Subqueries are not skipped; their FROM clauses
// are collected by the same walk.
func TableRefs(tokens []Token) []TableRef {
	refs := make([]TableRef, 0, 4)
	depth := 0
	openFrom := make(map[int]bool)
	expect := false

	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		switch t.Kind {
		case KindSymbol:
			switch t.Text {
			case "(":
				depth++
				expect = false
			case ")":
				delete(openFrom, depth)
				if depth > 0 {
					depth--
				}
			case ",":
				if openFrom[depth] {
					expect = true
				}
			}
		case KindWord, KindQuotedIdent:
			w := t.Word()
			if !expect {
				switch {
				case w == "from":
					openFrom[depth] = true
					expect = true
				case w == "join" || w == "into":
					expect = true
				case openFrom[depth] && fromListTerminators[w]:
					delete(openFrom, depth)
				}
				continue
			}
			if w == "lateral" {
				continue // FROM LATERAL (...): the real reference follows
			}
			ref, next := readRef(tokens, i)
			refs = append(refs, ref)
			expect = false
			i = next
		case KindString:
			if expect {
				refs = append(refs, TableRef{Token: t, Name: t.Text, Literal: true})
				expect = false
			}
		default:
			expect = false
		}
	}
	return refs
}

// readRef consumes an identifier chain starting at i and reports the index
// of its last token.
func readRef(tokens []Token, i int) (TableRef, int) {
	parts := []string{tokens[i].Name()}
	last := i
	for last+2 < len(tokens) &&
		tokens[last+1].Kind == KindSymbol && tokens[last+1].Text == "." &&
		(tokens[last+2].Kind == KindWord || tokens[last+2].Kind == KindQuotedIdent) {
		parts = append(parts, tokens[last+2].Name())
		last += 2
	}
	function := last+1 < len(tokens) &&
		tokens[last+1].Kind == KindSymbol && tokens[last+1].Text == "("
	return TableRef{
		Token:     tokens[i],
		Name:      strings.Join(parts, "."),
		Qualified: len(parts) > 1,
		Function:  function,
	}, last
}

// CTEScope records where each WITH-introduced name is visible. A name
// defined inside a subquery is not visible outside it, matching SQL scoping;
// a reference outside every window is a base-table access.
type CTEScope struct {
	defs []cteDef
}

type cteDef struct {
	name       string
	start, end int // byte offsets of the visibility window
}

// Visible reports whether name refers to a CTE at the given byte offset.
func (s CTEScope) Visible(name string, offset int) bool {
	name = strings.ToLower(name)
	for _, def := range s.defs {
		if def.name == name && offset >= def.start && offset < def.end {
			return true
		}
	}
	return false
}

// CTEScopes collects the names introduced by WITH clauses together with the
// region each one covers: from its WITH keyword to the close of the
// enclosing parenthesized group (or the statement boundary at top level).
func CTEScopes(tokens []Token) CTEScope {
	var scope CTEScope
	for i := 0; i < len(tokens); i++ {
		if tokens[i].Word() != "with" {
			continue
		}
		end := scopeEnd(tokens, i)
		j := i + 1
		if j < len(tokens) && tokens[j].Word() == "recursive" {
			j++
		}
		for j < len(tokens) {
			if tokens[j].Kind != KindWord && tokens[j].Kind != KindQuotedIdent {
				break
			}
			scope.defs = append(scope.defs, cteDef{
				name:  strings.ToLower(tokens[j].Name()),
				start: tokens[i].Start,
				end:   end,
			})
			j++
			j = skipParens(tokens, j) // optional column list
			if j >= len(tokens) || tokens[j].Word() != "as" {
				break
			}
			j++
			for j < len(tokens) && (tokens[j].Word() == "not" || tokens[j].Word() == "materialized") {
				j++
			}
			j = skipParens(tokens, j) // CTE body
			if j >= len(tokens) || tokens[j].Kind != KindSymbol || tokens[j].Text != "," {
				break
			}
			j++
		}
	}
	return scope
}

// scopeEnd finds the byte offset where a WITH clause at token index i stops
// being in effect: the parenthesis closing the group it appears in, or a
// statement-separating semicolon at its own level.
func scopeEnd(tokens []Token, i int) int {
	depth := 0
	for j := i; j < len(tokens); j++ {
		if tokens[j].Kind != KindSymbol {
			continue
		}
		switch tokens[j].Text {
		case "(":
			depth++
		case ")":
			depth--
			if depth < 0 {
				return tokens[j].Start
			}
		case ";":
			if depth == 0 {
				return tokens[j].Start
			}
		}
	}
	return tokens[len(tokens)-1].End
}

// skipParens advances past one balanced parenthesized group starting at j,
// or returns j unchanged if tokens[j] is not an opening parenthesis.
func skipParens(tokens []Token, j int) int {
	if j >= len(tokens) || tokens[j].Kind != KindSymbol || tokens[j].Text != "(" {
		return j
	}
	depth := 0
	for ; j < len(tokens); j++ {
		if tokens[j].Kind != KindSymbol {
			continue
		}
		switch tokens[j].Text {
		case "(":
			depth++
		case ")":
			depth--
			if depth == 0 {
				return j + 1
			}
		}
	}
	return j
}
