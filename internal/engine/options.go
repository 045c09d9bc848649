package engine

import (
	"github.com/go-mysql-org/go-mysql/replication"
)

// Options tunes a dispatch run. Zero-valued fields are treated as unset:
// merging a partial Options over an existing one only overrides the fields
// that were actually given. BinlogName/BinlogNextPos take precedence over
// StartAtEnd when both are configured.
type Options struct {
	StartAtEnd    bool   // tail from the current master position
	BinlogName    string // explicit resume file
	BinlogNextPos uint32 // explicit resume offset

	// Raw record kinds to dispatch: rotate, tablemap, writerows, updaterows,
	// deleterows, xid, query, format. Empty include list means all kinds;
	// exclude wins.
	IncludeEvents []string
	ExcludeEvents []string

	// Database -> tables eligibility rules; an empty table list means the
	// whole database. Exclude wins.
	IncludeSchema map[string][]string
	ExcludeSchema map[string][]string
}

// merged returns o with the non-zero fields of over applied on top
// (shallow, later wins).
func (o Options) merged(over Options) Options {
	if over.StartAtEnd {
		o.StartAtEnd = true
	}
	if over.BinlogName != "" {
		o.BinlogName = over.BinlogName
	}
	if over.BinlogNextPos != 0 {
		o.BinlogNextPos = over.BinlogNextPos
	}
	if over.IncludeEvents != nil {
		o.IncludeEvents = over.IncludeEvents
	}
	if over.ExcludeEvents != nil {
		o.ExcludeEvents = over.ExcludeEvents
	}
	if over.IncludeSchema != nil {
		o.IncludeSchema = over.IncludeSchema
	}
	if over.ExcludeSchema != nil {
		o.ExcludeSchema = over.ExcludeSchema
	}
	return o
}

// eventAllowed applies the include/exclude event-kind lists to a raw record
// kind name. Exclude wins; an empty include list allows everything.
func (o Options) eventAllowed(kind string) bool {
	for _, k := range o.ExcludeEvents {
		if k == kind {
			return false
		}
	}
	if len(o.IncludeEvents) == 0 {
		return true
	}
	for _, k := range o.IncludeEvents {
		if k == kind {
			return true
		}
	}
	return false
}

// eventKindName maps a raw binlog event type to its configurable kind name.
// Unmapped types return "".
func eventKindName(t replication.EventType) string {
	switch t {
	case replication.WRITE_ROWS_EVENTv0, replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2:
		return "writerows"
	case replication.UPDATE_ROWS_EVENTv0, replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
		return "updaterows"
	case replication.DELETE_ROWS_EVENTv0, replication.DELETE_ROWS_EVENTv1, replication.DELETE_ROWS_EVENTv2:
		return "deleterows"
	case replication.ROTATE_EVENT:
		return "rotate"
	case replication.TABLE_MAP_EVENT:
		return "tablemap"
	case replication.XID_EVENT:
		return "xid"
	case replication.QUERY_EVENT:
		return "query"
	case replication.FORMAT_DESCRIPTION_EVENT:
		return "format"
	}
	return ""
}
