package ldap

import (
	"slices"
	"strings"
)

// Node is one position of a Tree. Entry is nil for intermediate nodes
// that were not part of the result.
type Node struct {
	RDN      string
	DN       string
	Entry    *Entry
	Parent   int
	Children []int
}

// Tree arranges entries by their DN below a root. Nodes[0] is the root;
// nodes refer to each other by index.
type Tree struct {
	Nodes []Node

	byDN     map[string]int
	children []map[string]int
}

// BuildTree assembles entries below rootDN. Entries outside rootDN are
// ignored and missing ancestors are created without an entry.
func BuildTree(rootDN string, entries []*Entry) *Tree {
	t := &Tree{byDN: map[string]int{}}
	t.add(Node{DN: rootDN, Parent: -1})

	type path struct {
		entry *Entry
		rdns  []string
	}

	paths := make([]path, 0, len(entries))
	for _, e := range entries {
		if EqualDN(e.DN, rootDN) {
			t.Nodes[0].Entry = e
			continue
		}

		rel, ok := trimDNSuffix(e.DN, rootDN)
		if !ok {
			continue
		}
		rdns, err := ExplodeDN(rel, true)
		if err != nil || len(rdns) == 0 {
			continue
		}
		slices.Reverse(rdns)
		paths = append(paths, path{entry: e, rdns: rdns})
	}

	slices.SortStableFunc(paths, func(a, b path) int {
		return slices.CompareFunc(a.rdns, b.rdns, func(x, y string) int {
			return strings.Compare(strings.ToLower(x), strings.ToLower(y))
		})
	})

	for _, p := range paths {
		current := 0
		for _, rdn := range p.rdns {
			current = t.child(current, rdn)
		}
		t.Nodes[current].Entry = p.entry
		t.Nodes[current].DN = p.entry.DN
		t.byDN[strings.ToLower(p.entry.DN)] = current
	}

	return t
}

func (t *Tree) add(n Node) int {
	t.Nodes = append(t.Nodes, n)
	t.children = append(t.children, map[string]int{})
	i := len(t.Nodes) - 1
	t.byDN[strings.ToLower(n.DN)] = i
	return i
}

// child returns the child of parent named rdn, creating it when missing.
func (t *Tree) child(parent int, rdn string) int {
	key := strings.ToLower(rdn)
	if i, ok := t.children[parent][key]; ok {
		return i
	}

	// rdn holds an unescaped value.
	dn := ImplodeDN([]string{rdn})
	if parentDN := t.Nodes[parent].DN; parentDN != "" {
		dn += "," + parentDN
	}

	i := t.add(Node{RDN: rdn, DN: dn, Parent: parent})
	t.children[parent][key] = i
	t.Nodes[parent].Children = append(t.Nodes[parent].Children, i)
	return i
}

func (t *Tree) Root() *Node { return &t.Nodes[0] }

// Node returns the node at index i, or nil.
func (t *Tree) Node(i int) *Node {
	if i < 0 || i >= len(t.Nodes) {
		return nil
	}
	return &t.Nodes[i]
}

// ChildrenOf returns the direct children of the node at index i.
func (t *Tree) ChildrenOf(i int) []*Node {
	n := t.Node(i)
	if n == nil {
		return nil
	}
	children := make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		children = append(children, &t.Nodes[c])
	}
	return children
}

// Find returns the index of the node at dn.
func (t *Tree) Find(dn string) (int, bool) {
	if i, ok := t.byDN[strings.ToLower(dn)]; ok {
		return i, true
	}
	for i := range t.Nodes {
		if EqualDN(t.Nodes[i].DN, dn) {
			return i, true
		}
	}
	return 0, false
}

// Walk visits the nodes depth first, parents before children. Returning
// false from fn skips the children of that node.
func (t *Tree) Walk(fn func(i int, n *Node, depth int) bool) {
	var walk func(i, depth int)
	walk = func(i, depth int) {
		if !fn(i, &t.Nodes[i], depth) {
			return
		}
		for _, c := range t.Nodes[i].Children {
			walk(c, depth+1)
		}
	}
	walk(0, 0)
}
