package models

// StatementType identifies the kind of row mutation a trigger is interested in.
type StatementType string

const (
	StatementAll    StatementType = "ALL"
	StatementInsert StatementType = "INSERT"
	StatementUpdate StatementType = "UPDATE"
	StatementDelete StatementType = "DELETE"
)

// Valid reports whether s is one of the recognized statement types.
func (s StatementType) Valid() bool {
	switch s {
	case StatementAll, StatementInsert, StatementUpdate, StatementDelete:
		return true
	}
	return false
}

// Covers reports whether a trigger registered for s should see an event of type t.
func (s StatementType) Covers(t StatementType) bool {
	return s == StatementAll || s == t
}

// AffectedRow holds the before/after images of a single mutated row.
// Before is nil for INSERT, After is nil for DELETE, both are set for UPDATE.
type AffectedRow struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// RowEvent represents one replicated row mutation, normalized from the binlog.
// It is immutable after translation; handlers must not modify it.
type RowEvent struct {
	Type         StatementType `json:"type"`
	Database     string        `json:"database"`
	Table        string        `json:"table"`
	BinlogName   string        `json:"binlog_name"`
	NextPosition uint32        `json:"next_position"`
	Timestamp    int64         `json:"timestamp"` // epoch millis
	Rows         []AffectedRow `json:"rows"`
	Columns      []string      `json:"columns"` // columns touched by this mutation
}

// HasColumn reports whether name is among the columns touched by the event.
func (e *RowEvent) HasColumn(name string) bool {
	for _, c := range e.Columns {
		if c == name {
			return true
		}
	}
	return false
}
