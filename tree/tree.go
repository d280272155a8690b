// Package tree implements the pure Channel Tree Builder of spec.md
// §4.2: a flat slice of channel rows in, a sorted forest out. It has no
// dependency on the store or any other component — the Channel Service
// calls it after every mutation and hands the result to the broker.
package tree

import (
	"sort"

	"github.com/fbarrella/reson8/models"
)

// Node wraps a Channel with its children and the presence-derived
// occupants, which the builder always leaves empty (spec.md §4.2: "the
// builder itself leaves them empty" — occupants are filled in by a
// separate presence query when the tree is emitted).
type Node struct {
	models.Channel
	Children  []*Node  `json:"children"`
	Occupants []string `json:"occupants"`
}

// Build transforms a flat channel list into a sorted forest. Dangling
// parentIds (pointing at a channel not present in rows) surface their
// owner as a root rather than dropping it, per spec.md §3's orphan
// invariant. The function is deterministic and side-effect free: re-running
// it on the same input always yields the same shape.
func Build(rows []models.Channel) []*Node {
	nodes := make(map[int64]*Node, len(rows))
	for _, ch := range rows {
		nodes[ch.ID] = &Node{Channel: ch, Children: []*Node{}, Occupants: []string{}}
	}

	var roots []*Node
	for _, ch := range rows {
		node := nodes[ch.ID]
		if ch.ParentID == nil {
			roots = append(roots, node)
			continue
		}
		parent, ok := nodes[*ch.ParentID]
		if !ok {
			// Dangling parent: surface as a root instead of discarding.
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}

	sortNodes(roots)
	for _, n := range nodes {
		sortNodes(n.Children)
	}

	return roots
}

func sortNodes(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Position != nodes[j].Position {
			return nodes[i].Position < nodes[j].Position
		}
		return nodes[i].ID < nodes[j].ID
	})
}

// Flatten is the inverse used by the round-trip test in spec.md §8:
// Build(Flatten(tree)) must reproduce the same shape and order.
func Flatten(roots []*Node) []models.Channel {
	var out []models.Channel
	var walk func(nodes []*Node)
	walk = func(nodes []*Node) {
		for _, n := range nodes {
			out = append(out, n.Channel)
			walk(n.Children)
		}
	}
	walk(roots)
	return out
}
