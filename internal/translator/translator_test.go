package translator

import (
	"io"
	"testing"

	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysql-triggers/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func tableMap(db, table string, columns ...string) *replication.TableMapEvent {
	tm := &replication.TableMapEvent{
		Schema:      []byte(db),
		Table:       []byte(table),
		ColumnCount: uint64(len(columns)),
	}
	for _, col := range columns {
		tm.ColumnName = append(tm.ColumnName, []byte(col))
	}
	return tm
}

func rowsEvent(tm *replication.TableMapEvent, rows ...[]interface{}) *replication.RowsEvent {
	return &replication.RowsEvent{Table: tm, Rows: rows}
}

func TestTranslateInsert(t *testing.T) {
	tr := NewTranslator(nil, testLogger())
	tm := tableMap("app", "users", "id", "name")

	ev, err := tr.Translate(models.StatementInsert,
		rowsEvent(tm, []interface{}{int64(1), []byte("alice")}),
		"binlog.000003", 1234, 1700000000)
	require.NoError(t, err)

	assert.Equal(t, models.StatementInsert, ev.Type)
	assert.Equal(t, "app", ev.Database)
	assert.Equal(t, "users", ev.Table)
	assert.Equal(t, "binlog.000003", ev.BinlogName)
	assert.Equal(t, uint32(1234), ev.NextPosition)
	assert.Equal(t, int64(1700000000)*1000, ev.Timestamp)

	require.Len(t, ev.Rows, 1)
	assert.Nil(t, ev.Rows[0].Before)
	assert.Equal(t, map[string]interface{}{"id": int64(1), "name": "alice"}, ev.Rows[0].After)

	// INSERT reports the full column set.
	assert.Equal(t, []string{"id", "name"}, ev.Columns)
}

func TestTranslateDelete(t *testing.T) {
	tr := NewTranslator(nil, testLogger())
	tm := tableMap("app", "users", "id", "name")

	ev, err := tr.Translate(models.StatementDelete,
		rowsEvent(tm, []interface{}{int64(1), []byte("alice")}, []interface{}{int64(2), []byte("bob")}),
		"binlog.000003", 1300, 1700000001)
	require.NoError(t, err)

	require.Len(t, ev.Rows, 2)
	for _, row := range ev.Rows {
		assert.Nil(t, row.After)
		assert.NotNil(t, row.Before)
	}
	assert.Equal(t, []string{"id", "name"}, ev.Columns)
}

func TestTranslateUpdateChangedColumns(t *testing.T) {
	tr := NewTranslator(nil, testLogger())
	tm := tableMap("app", "users", "id", "name", "email")

	ev, err := tr.Translate(models.StatementUpdate,
		rowsEvent(tm,
			[]interface{}{int64(1), []byte("alice"), []byte("a@old")},
			[]interface{}{int64(1), []byte("alice"), []byte("a@new")},
		),
		"binlog.000003", 1400, 1700000002)
	require.NoError(t, err)

	require.Len(t, ev.Rows, 1)
	assert.Equal(t, "a@old", ev.Rows[0].Before["email"])
	assert.Equal(t, "a@new", ev.Rows[0].After["email"])

	// Only the column that actually changed is reported.
	assert.Equal(t, []string{"email"}, ev.Columns)
}

func TestTranslateUpdateNullSemantics(t *testing.T) {
	tr := NewTranslator(nil, testLogger())
	tm := tableMap("app", "users", "id", "nick", "bio")

	ev, err := tr.Translate(models.StatementUpdate,
		rowsEvent(tm,
			// nick: NULL -> NULL (equal), bio: NULL -> value (changed)
			[]interface{}{int64(1), nil, nil},
			[]interface{}{int64(1), nil, []byte("hello")},
		),
		"binlog.000003", 1500, 1700000003)
	require.NoError(t, err)

	assert.Equal(t, []string{"bio"}, ev.Columns)
}

func TestTranslateUpdateMultipleRowsUnionColumns(t *testing.T) {
	tr := NewTranslator(nil, testLogger())
	tm := tableMap("app", "users", "id", "name", "email")

	ev, err := tr.Translate(models.StatementUpdate,
		rowsEvent(tm,
			[]interface{}{int64(1), []byte("alice"), []byte("a@x")},
			[]interface{}{int64(1), []byte("alicia"), []byte("a@x")},
			[]interface{}{int64(2), []byte("bob"), []byte("b@x")},
			[]interface{}{int64(2), []byte("bob"), []byte("b@y")},
		),
		"binlog.000003", 1600, 1700000004)
	require.NoError(t, err)

	require.Len(t, ev.Rows, 2)
	assert.Equal(t, []string{"name", "email"}, ev.Columns)
}

func TestTranslateMissingMetadataFails(t *testing.T) {
	tr := NewTranslator(nil, testLogger())
	tm := &replication.TableMapEvent{
		Schema:      []byte("app"),
		Table:       []byte("users"),
		ColumnCount: 2,
		// No ColumnName metadata and no fallback connection.
	}

	_, err := tr.Translate(models.StatementInsert,
		rowsEvent(tm, []interface{}{int64(1), []byte("x")}),
		"binlog.000003", 1700, 1700000005)
	assert.Error(t, err)
}

func TestNormalizeValueBytes(t *testing.T) {
	tm := tableMap("app", "users", "name")
	assert.Equal(t, "alice", normalizeValue(tm, 0, []byte("alice")))
	assert.Nil(t, normalizeValue(tm, 0, nil))
	assert.Equal(t, int64(7), normalizeValue(tm, 0, int64(7)))
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, valuesEqual(nil, nil))
	assert.False(t, valuesEqual(nil, "x"))
	assert.False(t, valuesEqual("x", nil))
	assert.True(t, valuesEqual("x", "x"))
	assert.False(t, valuesEqual("x", "y"))
	assert.True(t, valuesEqual(int64(1), int64(1)))
	assert.False(t, valuesEqual(int64(1), uint64(1)))
}
