package commenttree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hn-archive-crawler/internal/crawler"
)

const story = int64(1000)

func rows(pairs ...[2]int) []crawler.CommentRow {
	out := make([]crawler.CommentRow, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, crawler.CommentRow{ID: int64(p[0]), Depth: p[1], BodyHTML: "body"})
	}
	return out
}

func children(t *testing.T, tree Tree, id int64) []int64 {
	t.Helper()
	if id == tree.StoryID {
		return tree.Roots
	}
	n, ok := tree.Node(id)
	require.True(t, ok, "node %d missing", id)
	return n.Children
}

// requireTreeInvariants checks depth(node) == depth(parent)+1 and that every
// node is listed in exactly one parent's children.
func requireTreeInvariants(t *testing.T, tree Tree) {
	t.Helper()
	listed := map[int64]int{}
	for _, id := range tree.Roots {
		listed[id]++
	}
	for _, n := range tree.Nodes {
		for _, c := range n.Children {
			listed[c]++
		}
		parentDepth, ok := tree.DepthOf(n.ParentID)
		require.True(t, ok)
		require.Equal(t, parentDepth+1, n.Depth, "node %d", n.ID)
		require.Contains(t, children(t, tree, n.ParentID), n.ID)
	}
	for _, n := range tree.Nodes {
		require.Equal(t, 1, listed[n.ID], "node %d listed %d times", n.ID, listed[n.ID])
	}
}

func TestBuildPreorderLiteralCase(t *testing.T) {
	t.Parallel()

	tree := Build(story, rows([2]int{1, 0}, [2]int{2, 1}, [2]int{3, 2}, [2]int{4, 1}, [2]int{5, 0}))

	require.Equal(t, []int64{1, 5}, tree.Roots)
	require.Equal(t, []int64{2, 4}, children(t, tree, 1))
	require.Equal(t, []int64{3}, children(t, tree, 2))
	require.Empty(t, children(t, tree, 3))
	require.Empty(t, children(t, tree, 4))
	require.Empty(t, children(t, tree, 5))

	n4, _ := tree.Node(4)
	require.Equal(t, int64(1), n4.ParentID)
	require.Equal(t, 5, tree.Descendants())
	n1, _ := tree.Node(1)
	require.Equal(t, 2, n1.DirectDescendants())
	requireTreeInvariants(t, tree)
}

func TestBuildEmpty(t *testing.T) {
	t.Parallel()

	tree := Build(story, nil)
	require.NotNil(t, tree.Roots)
	require.Empty(t, tree.Roots)
	require.Zero(t, tree.Descendants())
}

func TestBuildSiblingsAtSameDepth(t *testing.T) {
	t.Parallel()

	tree := Build(story, rows([2]int{1, 0}, [2]int{2, 1}, [2]int{3, 1}, [2]int{4, 1}))
	require.Equal(t, []int64{1}, tree.Roots)
	require.Equal(t, []int64{2, 3, 4}, children(t, tree, 1))
	requireTreeInvariants(t, tree)
}

func TestBuildClampsDepthJumps(t *testing.T) {
	t.Parallel()

	// 1 at depth 0, then 2 claims depth 3: clamped to 1 (child of 1).
	// 3 claims depth 7 after 2: clamped to 2 (child of 2).
	tree := Build(story, rows([2]int{1, 0}, [2]int{2, 3}, [2]int{3, 7}, [2]int{4, 0}))
	require.Equal(t, []int64{1, 4}, tree.Roots)
	require.Equal(t, []int64{2}, children(t, tree, 1))
	require.Equal(t, []int64{3}, children(t, tree, 2))
	n3, _ := tree.Node(3)
	require.Equal(t, 2, n3.Depth)
	requireTreeInvariants(t, tree)
}

func TestBuildFirstRowDeepIsTopLevel(t *testing.T) {
	t.Parallel()

	tree := Build(story, rows([2]int{1, 4}, [2]int{2, -3}))
	require.Equal(t, []int64{1, 2}, tree.Roots)
	requireTreeInvariants(t, tree)
}

func TestBuildDeletedRowKeepsPosition(t *testing.T) {
	t.Parallel()

	in := rows([2]int{1, 0}, [2]int{2, 1}, [2]int{3, 2})
	in[1].Deleted = true
	in[1].BodyHTML = "[deleted]"

	tree := Build(story, in)
	n2, ok := tree.Node(2)
	require.True(t, ok)
	require.True(t, n2.Deleted)
	require.Empty(t, n2.BodyHTML)
	require.Equal(t, []int64{3}, n2.Children)
	n3, _ := tree.Node(3)
	require.Equal(t, "body", n3.BodyHTML)
	require.Equal(t, "[deleted]", in[1].BodyHTML, "input rows are not mutated")
	requireTreeInvariants(t, tree)
}

func TestBuildDropsDuplicateIDs(t *testing.T) {
	t.Parallel()

	tree := Build(story, rows([2]int{1, 0}, [2]int{2, 1}, [2]int{2, 1}, [2]int{3, 0}))
	require.Equal(t, 3, tree.Descendants())
	require.Equal(t, []int64{2}, children(t, tree, 1))
	requireTreeInvariants(t, tree)
}

func TestBuildDeepChainUnwinds(t *testing.T) {
	t.Parallel()

	tree := Build(story, rows(
		[2]int{1, 0}, [2]int{2, 1}, [2]int{3, 2}, [2]int{4, 3},
		[2]int{5, 2}, [2]int{6, 0}, [2]int{7, 1},
	))
	require.Equal(t, []int64{1, 6}, tree.Roots)
	require.Equal(t, []int64{3, 5}, children(t, tree, 2))
	require.Equal(t, []int64{4}, children(t, tree, 3))
	require.Equal(t, []int64{7}, children(t, tree, 6))
	requireTreeInvariants(t, tree)
}
