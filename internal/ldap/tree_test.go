package ldap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTree(t *testing.T) {
	entries := []*Entry{
		{DN: "uid=b,ou=people,dc=example,dc=com"},
		{DN: "uid=a,ou=people,dc=example,dc=com"},
		{DN: "cn=admins,ou=groups,dc=example,dc=com"},
		{DN: "ou=people,dc=example,dc=com"},
		{DN: "cn=other,dc=elsewhere,dc=org"},
		{DN: "DC=Example,DC=Com"},
	}

	tree := BuildTree("dc=example,dc=com", entries)

	root := tree.Root()
	assert.Equal(t, -1, root.Parent)
	require.NotNil(t, root.Entry, "the root entry is attached to the root node")

	var lines []string
	tree.Walk(func(i int, n *Node, depth int) bool {
		marker := ""
		if n.Entry == nil {
			marker = " (missing)"
		}
		lines = append(lines, strings.Repeat("  ", depth)+n.RDN+marker)
		return true
	})

	assert.Equal(t, []string{
		"",
		"  ou=groups (missing)",
		"    cn=admins",
		"  ou=people",
		"    uid=a",
		"    uid=b",
	}, lines)

	_, ok := tree.Find("cn=other,dc=elsewhere,dc=org")
	assert.False(t, ok, "entries outside the root are ignored")

	i, ok := tree.Find("ou=groups,dc=example,dc=com")
	require.True(t, ok)
	groups := tree.Node(i)
	assert.Nil(t, groups.Entry)
	assert.Equal(t, 0, groups.Parent)

	i, ok = tree.Find("UID=A,OU=People,DC=example,DC=com")
	require.True(t, ok)
	assert.Equal(t, "uid=a,ou=people,dc=example,dc=com", tree.Node(i).DN)
}

func TestBuildTree_EscapedAncestor(t *testing.T) {
	tree := BuildTree("dc=example,dc=com", []*Entry{
		{DN: `cn=x,ou=Doe\2c John,dc=example,dc=com`},
	})

	require.Len(t, tree.Nodes, 3)
	missing := tree.Node(1)
	assert.Nil(t, missing.Entry)
	assert.Equal(t, "ou=Doe, John", missing.RDN)
	assert.Equal(t, `ou=Doe\2c John,dc=example,dc=com`, missing.DN)

	i, ok := tree.Find(`ou=Doe\2c John,dc=example,dc=com`)
	require.True(t, ok)
	assert.Equal(t, 1, i)
	assert.Equal(t, []int{2}, tree.Node(i).Children)
}

func TestTree_WalkSkipsChildren(t *testing.T) {
	tree := BuildTree("dc=example,dc=com", []*Entry{
		{DN: "uid=a,ou=people,dc=example,dc=com"},
		{DN: "ou=groups,dc=example,dc=com"},
	})

	var visited []string
	tree.Walk(func(_ int, n *Node, _ int) bool {
		visited = append(visited, n.RDN)
		return n.RDN != "ou=people"
	})
	assert.Equal(t, []string{"", "ou=groups", "ou=people"}, visited)
}

func TestTree_NodeBounds(t *testing.T) {
	tree := BuildTree("dc=example,dc=com", nil)
	assert.Len(t, tree.Nodes, 1)
	assert.Nil(t, tree.Node(-1))
	assert.Nil(t, tree.Node(1))
	assert.Nil(t, tree.ChildrenOf(5))
	assert.Empty(t, tree.ChildrenOf(0))
}
