package script

import (
	"io"
	"os"
	"path/filepath"
	"testing"

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

func writeScript(t *testing.T, source string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "handler.js")
	require.NoError(t, os.WriteFile(path, []byte(source), 0644))
	return path
}

func sampleEvent() *models.RowEvent {
	return &models.RowEvent{
		Type:     models.StatementInsert,
		Database: "app",
		Table:    "users",
		Columns:  []string{"id", "name"},
		Rows: []models.AffectedRow{
			{After: map[string]interface{}{"id": float64(1), "name": "alice"}},
		},
	}
}

func TestLoadRejectsNonFunction(t *testing.T) {
	_, err := Load(writeScript(t, `var x = 42;`), testLogger())
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.js"), testLogger())
	assert.Error(t, err)
}

func TestRunAnonymousFunctionPassThrough(t *testing.T) {
	h, err := Load(writeScript(t, `(function(event) { return event; })`), testLogger())
	require.NoError(t, err)

	out, err := h.Run(sampleEvent())
	require.NoError(t, err)
	assert.Equal(t, "app", out.Database)
	assert.Equal(t, "users", out.Table)
	assert.Equal(t, models.StatementInsert, out.Type)
}

func TestRunNamedHandleFunction(t *testing.T) {
	h, err := Load(writeScript(t, `
function handle(event) {
  event.table = "renamed";
  return event;
}`), testLogger())
	require.NoError(t, err)

	out, err := h.Run(sampleEvent())
	require.NoError(t, err)
	assert.Equal(t, "renamed", out.Table)
}

func TestRunNullRejectsEvent(t *testing.T) {
	h, err := Load(writeScript(t, `(function(event) { return null; })`), testLogger())
	require.NoError(t, err)

	_, err = h.Run(sampleEvent())
	require.ErrorIs(t, err, ErrEventRejected)
}

func TestRunScriptError(t *testing.T) {
	h, err := Load(writeScript(t, `(function(event) { throw new Error("nope"); })`), testLogger())
	require.NoError(t, err)

	_, err = h.Run(sampleEvent())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrEventRejected)
}

func TestRunSeesEventFields(t *testing.T) {
	h, err := Load(writeScript(t, `
(function(event) {
  if (event.rows[0].after.name !== "alice") return null;
  return event;
})`), testLogger())
	require.NoError(t, err)

	out, err := h.Run(sampleEvent())
	require.NoError(t, err)
	require.Len(t, out.Rows, 1)
	assert.Equal(t, "alice", out.Rows[0].After["name"])
}
