// Package commenttree rebuilds a discussion hierarchy from the flat,
// depth-annotated row sequence rendered on a detail page.
//
// Rows arrive in preorder: every row is followed by its whole subtree before
// any sibling at a shallower or equal depth. The only structural signal is an
// integer nesting hint per row, so all reconstruction lives in Build and a
// source with explicit parent ids can replace it without touching callers.
package commenttree

import "github.com/JakeFAU/hn-archive-crawler/internal/crawler"

// RootDepth is the depth of the story itself.
const RootDepth = -1

// Node is a comment row placed in the tree.
type Node struct {
	crawler.CommentRow
	ParentID int64
	Children []int64
}

// DirectDescendants is the number of direct replies.
func (n Node) DirectDescendants() int {
	return len(n.Children)
}

// Tree is the reconstructed discussion for one story.
type Tree struct {
	StoryID int64
	Roots   []int64
	// Nodes are kept in document order.
	Nodes []Node
	index map[int64]int
}

// Build reconstructs the tree for storyID from rows in document order.
//
// Depth hints below zero are treated as zero. A hint deeper than the previous
// row's depth + 1 is clamped to previous + 1. Rows repeating an id already
// placed are dropped before they touch the ancestor stack, so replies that
// follow a repeated row attach to the last placed row at the repeat's depth.
// Preorder pages never repeat ids, so this only matters for malformed input.
// Deleted rows keep their position but lose their body.
func Build(storyID int64, rows []crawler.CommentRow) Tree {
	t := Tree{
		StoryID: storyID,
		Roots:   []int64{},
		Nodes:   make([]Node, 0, len(rows)),
		index:   make(map[int64]int, len(rows)),
	}
	stack := make([]int64, 0, 16)

	for _, row := range rows {
		if _, dup := t.index[row.ID]; dup || row.ID == storyID {
			continue
		}
		depth := row.Depth
		if depth < 0 {
			depth = 0
		}
		if depth > len(stack) {
			depth = len(stack)
		}
		stack = stack[:depth]

		parent := storyID
		if len(stack) > 0 {
			parent = stack[len(stack)-1]
		}
		stack = append(stack, row.ID)

		row.Depth = depth
		if row.Deleted {
			row.BodyHTML = ""
		}
		t.index[row.ID] = len(t.Nodes)
		t.Nodes = append(t.Nodes, Node{CommentRow: row, ParentID: parent, Children: []int64{}})

		if parent == storyID {
			t.Roots = append(t.Roots, row.ID)
		} else {
			p := &t.Nodes[t.index[parent]]
			p.Children = append(p.Children, row.ID)
		}
	}
	return t
}

// Node looks up a reconstructed node by id.
func (t Tree) Node(id int64) (Node, bool) {
	i, ok := t.index[id]
	if !ok {
		return Node{}, false
	}
	return t.Nodes[i], true
}

// Descendants is the story-level comment count: every row reconstructed,
// not a recursive sum over children.
func (t Tree) Descendants() int {
	return len(t.Nodes)
}

// DepthOf returns the depth of id, RootDepth for the story, or false if unknown.
func (t Tree) DepthOf(id int64) (int, bool) {
	if id == t.StoryID {
		return RootDepth, true
	}
	n, ok := t.Node(id)
	if !ok {
		return 0, false
	}
	return n.Depth, true
}
