package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
mysql:
  host: 127.0.0.1
  user: repl
  password: secret
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.MySQL.Flavor)
	assert.Equal(t, uint16(3306), cfg.MySQL.Port)
	assert.Equal(t, uint32(1), cfg.MySQL.ServerID)
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)
}

func TestLoadConfigDSN(t *testing.T) {
	path := writeConfig(t, `
mysql:
  dsn: "repl:secret@tcp(db.internal:3307)/"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.MySQL.Host)
	assert.Equal(t, uint16(3307), cfg.MySQL.Port)
	assert.Equal(t, "repl", cfg.MySQL.User)
	assert.Equal(t, "secret", cfg.MySQL.Password)
}

func TestLoadConfigTriggers(t *testing.T) {
	path := writeConfig(t, `
mysql:
  host: 127.0.0.1
binlog:
  start_at_end: true
  exclude_schema:
    scratch: []
triggers:
  - name: user-changes
    expression: "app.users.*"
    statement: UPDATE
    subject: cdc.app.users
  - name: audit
    expression: "*.*"
    script: handlers/audit.js
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Len(t, cfg.Triggers, 2)
	assert.Equal(t, "user-changes", cfg.Triggers[0].Name)
	assert.Equal(t, "UPDATE", cfg.Triggers[0].Statement)
	assert.True(t, cfg.Binlog.StartAtEnd)
	assert.Contains(t, cfg.Binlog.ExcludeSchema, "scratch")
}

func TestLoadConfigTriggerValidation(t *testing.T) {
	for name, content := range map[string]string{
		"missing name": `
triggers:
  - expression: "*.*"
    subject: cdc.all
`,
		"missing expression": `
triggers:
  - name: t
    subject: cdc.all
`,
		"missing action": `
triggers:
  - name: t
    expression: "*.*"
`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigBadDSN(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "mysql:\n  dsn: \"not a dsn at all\"\n"))
	assert.Error(t, err)
}
