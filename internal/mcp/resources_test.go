package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAgentURI(t *testing.T) {
	tests := []struct {
		name      string
		uri       string
		wantID    string
		errSubstr string
	}{
		{name: "simple id", uri: "ichiba://agents/trader", wantID: "trader"},
		{name: "id with dots and hyphens", uri: "ichiba://agents/agent.v2-b", wantID: "agent.v2-b"},
		{name: "empty id", uri: "ichiba://agents/", errSubstr: "agent_id is required"},
		{name: "nested path", uri: "ichiba://agents/a/b", errSubstr: "invalid characters"},
		{name: "wrong scheme", uri: "http://agents/a", errSubstr: "invalid agent URI"},
		{name: "empty string", uri: "", errSubstr: "invalid agent URI"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := parseAgentURI(tt.uri)
			if tt.errSubstr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errSubstr)
				assert.Empty(t, id)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, id)
		})
	}
}
