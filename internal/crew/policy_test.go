package crew

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinatorPolicyPrefersUnblockingWork(t *testing.T) {
	g, err := NewGraph([]WorkItem{
		plain("leaf"), plain("hub"), plain("mid"),
		plain("x", "hub"), plain("y", "hub", "mid"), plain("z", "y"),
	})
	require.NoError(t, err)

	got := CoordinatorPolicy{}.Order([]string{"leaf", "hub", "mid"}, g, nil)
	// hub unblocks x, y, z; mid unblocks y, z; leaf nothing
	assert.Equal(t, []string{"hub", "mid", "leaf"}, got)
}

func TestCoordinatorPolicyTiesByDeclaration(t *testing.T) {
	g, err := NewGraph([]WorkItem{plain("a"), plain("b"), plain("c"), plain("d", "a", "b", "c")})
	require.NoError(t, err)

	got := CoordinatorPolicy{}.Order([]string{"c", "a", "b"}, g, nil)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestDeclarationPolicy(t *testing.T) {
	g, err := NewGraph([]WorkItem{plain("a"), plain("b"), plain("c")})
	require.NoError(t, err)

	ready := []string{"c", "a", "b"}
	got := DeclarationPolicy{}.Order(ready, g, nil)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, []string{"c", "a", "b"}, ready, "input must not be mutated")
}

func TestSanitize(t *testing.T) {
	g, err := NewGraph([]WorkItem{plain("a"), plain("b"), plain("c"), plain("d", "a")})
	require.NoError(t, err)

	tests := []struct {
		name     string
		proposed []string
		ready    []string
		want     []string
	}{
		{"keeps valid reorder", []string{"c", "a", "b"}, []string{"a", "b", "c"}, []string{"c", "a", "b"}},
		{"drops keys that are not ready", []string{"d", "b", "ghost"}, []string{"a", "b"}, []string{"b", "a"}},
		{"drops duplicates", []string{"b", "b", "a"}, []string{"a", "b"}, []string{"b", "a"}},
		{"restores omitted keys in declaration order", nil, []string{"c", "a"}, []string{"a", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitize(tt.proposed, tt.ready, g))
		})
	}
}
