package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterNoRulesAllowsEverything(t *testing.T) {
	f := NewFilter(nil, nil)

	assert.True(t, f.Allowed("app", "users"))
	assert.True(t, f.Allowed("other", "anything"))
	assert.True(t, f.Allowed("", ""))
}

func TestFilterIncludeWholeDatabase(t *testing.T) {
	f := NewFilter(map[string][]string{"app": {}}, nil)

	assert.True(t, f.Allowed("app", "users"))
	assert.True(t, f.Allowed("app", "orders"))
	assert.False(t, f.Allowed("other", "users"))
}

func TestFilterIncludeSpecificTables(t *testing.T) {
	f := NewFilter(map[string][]string{"app": {"users", "orders"}}, nil)

	assert.True(t, f.Allowed("app", "users"))
	assert.True(t, f.Allowed("app", "orders"))
	assert.False(t, f.Allowed("app", "sessions"))
	assert.False(t, f.Allowed("other", "users"))
}

func TestFilterExcludeWholeDatabase(t *testing.T) {
	f := NewFilter(nil, map[string][]string{"scratch": {}})

	assert.False(t, f.Allowed("scratch", "anything"))
	assert.True(t, f.Allowed("app", "users"))
}

func TestFilterExcludeSpecificTables(t *testing.T) {
	f := NewFilter(nil, map[string][]string{"app": {"audit_log"}})

	assert.False(t, f.Allowed("app", "audit_log"))
	assert.True(t, f.Allowed("app", "users"))
}

func TestFilterExcludeWinsOverInclude(t *testing.T) {
	// The whole database is excluded, so the include list for it is moot.
	f := NewFilter(
		map[string][]string{"db1": {"t1"}},
		map[string][]string{"db1": {}},
	)

	assert.False(t, f.Allowed("db1", "t1"))
	assert.False(t, f.Allowed("db1", "t2"))
}

func TestFilterExcludeTableWithinIncludedDatabase(t *testing.T) {
	f := NewFilter(
		map[string][]string{"app": {}},
		map[string][]string{"app": {"secrets"}},
	)

	assert.False(t, f.Allowed("app", "secrets"))
	assert.True(t, f.Allowed("app", "users"))
}
