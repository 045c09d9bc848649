package schema

// Filter decides whether row events for a schema/table are eligible at all,
// before any translation work is done. Exclude rules win over include rules;
// with no rules configured everything passes.
//
// Rules map a database name to a list of tables. An empty (or nil) table list
// stands for the whole database.
type Filter struct {
	include map[string][]string
	exclude map[string][]string
}

// NewFilter creates a filter from include/exclude rule maps. Both maps may be nil.
func NewFilter(include, exclude map[string][]string) *Filter {
	return &Filter{include: include, exclude: exclude}
}

// Allowed reports whether events for database.table should be processed.
func (f *Filter) Allowed(database, table string) bool {
	if tables, ok := f.exclude[database]; ok {
		if len(tables) == 0 || containsTable(tables, table) {
			return false
		}
	}

	if len(f.include) > 0 {
		tables, ok := f.include[database]
		if !ok {
			return false
		}
		if len(tables) > 0 && !containsTable(tables, table) {
			return false
		}
	}

	return true
}

func containsTable(tables []string, table string) bool {
	for _, t := range tables {
		if t == table {
			return true
		}
	}
	return false
}
