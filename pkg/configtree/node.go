// Package configtree provides a read-only tree of named nodes with attributes,
// the shape the error-routing configuration is declared in.
//
// All accessors are nil-safe: asking a missing node for a child, attribute or
// value yields nil or "" rather than an error, so callers can walk optional
// sections without checks.
package configtree

import "strings"

// Attributes is the raw attribute bag of a node. It is handed verbatim to
// plugin constructors.
type Attributes map[string]string

// Get returns the attribute value, or "" when absent.
func (a Attributes) Get(key string) string {
	if a == nil {
		return ""
	}
	return a[key]
}

// Clone returns a copy that can be modified without touching the tree.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Node is one element of the configuration tree.
type Node struct {
	Name  string
	Attrs Attributes
	Text  string
	Nodes []*Node
}

// NewNode creates an empty node.
func NewNode(name string) *Node {
	return &Node{Name: name, Attrs: Attributes{}}
}

// Add appends child and returns it.
func (n *Node) Add(child *Node) *Node {
	n.Nodes = append(n.Nodes, child)
	return child
}

// Attr returns the named attribute of n.
func (n *Node) Attr(key string) string {
	if n == nil {
		return ""
	}
	return n.Attrs.Get(key)
}

// Child returns the first child called name.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Nodes {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Children returns every child called name in declaration order. A single
// child and many children are returned the same way.
func (n *Node) Children(name string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.Nodes {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Lookup walks path from n, following the first child at each step.
func (n *Node) Lookup(path ...string) *Node {
	cur := n
	for _, p := range path {
		cur = cur.Child(p)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Value returns the trimmed text of the leaf at path.
func (n *Node) Value(path ...string) string {
	leaf := n.Lookup(path...)
	if leaf == nil {
		return ""
	}
	return strings.TrimSpace(leaf.Text)
}
