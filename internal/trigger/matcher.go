package trigger

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"mysql-triggers/internal/models"
)

// Expression is a compiled dot-separated pattern of the form
// "database.table.column". Each segment is a glob pattern; "*" matches any
// value at that position. Expressions with fewer segments are wildcard-padded
// on the right, so "app" is equivalent to "app.*.*". A column segment other
// than "*" restricts the match to events that touched at least one matching
// column.
type Expression struct {
	raw      string
	database glob.Glob
	table    glob.Glob
	column   glob.Glob // nil when the column position is unconstrained
}

// CompileExpression parses and compiles a trigger expression.
func CompileExpression(raw string) (*Expression, error) {
	if raw == "" {
		return nil, fmt.Errorf("expression is required")
	}

	parts := strings.Split(raw, ".")
	if len(parts) > 3 {
		return nil, fmt.Errorf("invalid expression %q: at most 3 segments (database.table.column)", raw)
	}
	for len(parts) < 3 {
		parts = append(parts, "*")
	}

	expr := &Expression{raw: raw}
	for i, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("invalid expression %q: empty segment", raw)
		}
		if i == 2 && part == "*" {
			// Unconstrained column position: matches even when the
			// event carries no affected columns at all.
			continue
		}
		g, err := glob.Compile(part)
		if err != nil {
			return nil, fmt.Errorf("invalid expression %q: %w", raw, err)
		}
		switch i {
		case 0:
			expr.database = g
		case 1:
			expr.table = g
		case 2:
			expr.column = g
		}
	}
	return expr, nil
}

// String returns the expression as written.
func (e *Expression) String() string {
	return e.raw
}

// Matches reports whether the expression selects the given event.
func (e *Expression) Matches(ev *models.RowEvent) bool {
	if !e.database.Match(ev.Database) || !e.table.Match(ev.Table) {
		return false
	}
	if e.column == nil {
		return true
	}
	for _, col := range ev.Columns {
		if e.column.Match(col) {
			return true
		}
	}
	return false
}

// Match evaluates the trigger snapshot against an event and returns the
// matching triggers in registration order. The statement filter is applied
// before the expression.
func Match(triggers []*Trigger, ev *models.RowEvent) []*Trigger {
	var matched []*Trigger
	for _, t := range triggers {
		if !t.Statement.Covers(ev.Type) {
			continue
		}
		if t.expr.Matches(ev) {
			matched = append(matched, t)
		}
	}
	return matched
}
