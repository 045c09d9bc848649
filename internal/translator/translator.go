package translator

import (
	"database/sql"
	"fmt"
	"reflect"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"mysql-triggers/internal/models"
)

// Translator converts raw binlog rows events into normalized RowEvents.
//
// Column names come from the TableMapEvent metadata when the server writes
// them (MySQL 8.0+ with binlog_row_metadata=FULL); otherwise they are fetched
// once from INFORMATION_SCHEMA and cached per table. A record whose column
// metadata cannot be resolved is a recoverable failure: the caller is expected
// to skip it and keep consuming the stream.
type Translator struct {
	db          *sql.DB // optional, for the INFORMATION_SCHEMA fallback
	logger      *logrus.Logger
	columnNames map[string][]string
}

// NewTranslator creates a translator. db may be nil when the server is known
// to write full binlog row metadata.
func NewTranslator(db *sql.DB, logger *logrus.Logger) *Translator {
	return &Translator{
		db:          db,
		logger:      logger,
		columnNames: make(map[string][]string),
	}
}

// Translate builds one RowEvent from a raw rows event. For UPDATE records the
// rows arrive as interleaved before/after pairs; the affected column set is
// the union of columns whose value differs in any pair. For INSERT and DELETE
// it is the full column set.
func (t *Translator) Translate(typ models.StatementType, ev *replication.RowsEvent, binlogName string, nextPos uint32, timestamp uint32) (*models.RowEvent, error) {
	database := string(ev.Table.Schema)
	table := string(ev.Table.Table)

	columns, err := t.resolveColumns(ev.Table)
	if err != nil {
		return nil, fmt.Errorf("resolve columns for %s.%s: %w", database, table, err)
	}

	out := &models.RowEvent{
		Type:         typ,
		Database:     database,
		Table:        table,
		BinlogName:   binlogName,
		NextPosition: nextPos,
		Timestamp:    int64(timestamp) * 1000,
	}

	switch typ {
	case models.StatementInsert:
		for _, row := range ev.Rows {
			out.Rows = append(out.Rows, models.AffectedRow{After: t.rowMap(ev.Table, columns, row)})
		}
		out.Columns = append(out.Columns, columns...)

	case models.StatementDelete:
		for _, row := range ev.Rows {
			out.Rows = append(out.Rows, models.AffectedRow{Before: t.rowMap(ev.Table, columns, row)})
		}
		out.Columns = append(out.Columns, columns...)

	case models.StatementUpdate:
		changed := make(map[string]bool)
		for i := 0; i+1 < len(ev.Rows); i += 2 {
			before := t.rowMap(ev.Table, columns, ev.Rows[i])
			after := t.rowMap(ev.Table, columns, ev.Rows[i+1])
			out.Rows = append(out.Rows, models.AffectedRow{Before: before, After: after})
			for _, col := range columns {
				if !changed[col] && !valuesEqual(before[col], after[col]) {
					changed[col] = true
				}
			}
		}
		for _, col := range columns {
			if changed[col] {
				out.Columns = append(out.Columns, col)
			}
		}

	default:
		return nil, fmt.Errorf("unsupported statement type %q", typ)
	}

	if len(out.Rows) == 0 {
		return nil, fmt.Errorf("%s record for %s.%s carries no rows", typ, database, table)
	}

	return out, nil
}

// resolveColumns returns the ordered column names for the table behind a
// TableMapEvent.
func (t *Translator) resolveColumns(tableMap *replication.TableMapEvent) ([]string, error) {
	if len(tableMap.ColumnName) > 0 {
		columns := make([]string, len(tableMap.ColumnName))
		for i, col := range tableMap.ColumnName {
			columns[i] = string(col)
		}
		return columns, nil
	}

	database := string(tableMap.Schema)
	table := string(tableMap.Table)
	cacheKey := database + "." + table
	if cols, ok := t.columnNames[cacheKey]; ok {
		return cols, nil
	}

	if t.db == nil {
		return nil, fmt.Errorf("binlog carries no column metadata and no metadata connection is configured")
	}

	rows, err := t.db.Query(
		`SELECT COLUMN_NAME FROM INFORMATION_SCHEMA.COLUMNS
		 WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		 ORDER BY ORDINAL_POSITION`,
		database, table,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query column names: %w", err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column name: %w", err)
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s.%s not found in INFORMATION_SCHEMA", database, table)
	}
	if uint64(len(columns)) < tableMap.ColumnCount {
		t.logger.Warnf("Column count mismatch for %s.%s: binlog has %d columns, schema has %d",
			database, table, tableMap.ColumnCount, len(columns))
	}

	t.columnNames[cacheKey] = columns
	t.logger.Debugf("Cached %d column names for %s.%s", len(columns), database, table)
	return columns, nil
}

// rowMap converts one raw row to a column-keyed map of normalized values.
func (t *Translator) rowMap(tableMap *replication.TableMapEvent, columns []string, row []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(row))
	for i := 0; i < len(row) && i < len(columns); i++ {
		m[columns[i]] = normalizeValue(tableMap, i, row[i])
	}
	return m
}

// normalizeValue maps the driver-level value to a stable representation:
// unsigned integers are fixed up from the table metadata (the binlog stores
// them signed), decimals become strings, and byte slices become strings.
func normalizeValue(tableMap *replication.TableMapEvent, idx int, val interface{}) interface{} {
	if val == nil {
		return nil
	}

	if d, ok := val.(decimal.Decimal); ok {
		return d.String()
	}

	if unsigned := tableMap.UnsignedMap(); unsigned != nil && unsigned[idx] {
		switch v := val.(type) {
		case int8:
			return uint8(v)
		case int16:
			return uint16(v)
		case int32:
			if v < 0 && idx < len(tableMap.ColumnType) && tableMap.ColumnType[idx] == mysql.MYSQL_TYPE_INT24 {
				// 16777215 is the maximum value of an unsigned mediumint
				return uint32(16777215 + v + 1)
			}
			return uint32(v)
		case int64:
			return uint64(v)
		case int:
			return uint(v)
		}
	}

	if b, ok := val.([]byte); ok {
		return string(b)
	}

	return val
}

// valuesEqual compares two normalized column values. NULL equals NULL; NULL
// never equals a non-NULL value.
func valuesEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a, b)
}
