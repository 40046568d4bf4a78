package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExactMatch(t *testing.T) {
	a := NewAuthorizer(map[string]string{"docs.extract": "mcp:tools.docs"})

	_, ok := a.Authorize("docs.extract", []string{"mcp:tools.docs"})
	assert.True(t, ok)

	missing, ok := a.Authorize("docs.extract", []string{"mcp:tools.sheets"})
	assert.False(t, ok)
	assert.Equal(t, "mcp:tools.docs", missing)
}

func TestWildcardMatch(t *testing.T) {
	assert.True(t, Matches("mcp:tools.*", "mcp:tools.audit"))
	assert.True(t, Matches("mcp:tools.*", "mcp:tools.viz"))
	assert.False(t, Matches("mcp:tools.*", "mcp:admin.tools.manage"))
	assert.False(t, Matches("mcp:tools.*", "mcp:tools"))
}

func TestWildcardGrantAuthorizes(t *testing.T) {
	a := NewAuthorizer(map[string]string{
		"audit": "mcp:tools.audit",
		"admin": "mcp:admin.tools.manage",
	})

	scopes := []string{"mcp:tools.*"}
	_, ok := a.Authorize("audit", scopes)
	assert.True(t, ok)
	_, ok = a.Authorize("admin", scopes)
	assert.False(t, ok)
}

func TestUnknownCapabilityNeedsNoScope(t *testing.T) {
	a := NewAuthorizer(map[string]string{"known": "s"})
	_, ok := a.Authorize("unknown", nil)
	assert.True(t, ok)
}

func TestFromPairs(t *testing.T) {
	a, err := FromPairs([]string{"docs.extract=tools.docs", "open=e"})
	require.NoError(t, err)
	assert.Equal(t, "tools.docs", a.Required("docs.extract"))

	_, err = FromPairs([]string{"no-equals-sign"})
	assert.Error(t, err)
}
