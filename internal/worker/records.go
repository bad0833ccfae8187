package worker

import (
	"github.com/JakeFAU/hn-archive-crawler/internal/commenttree"
	"github.com/JakeFAU/hn-archive-crawler/internal/crawler"
)

// StoryRecord merges a listing stub with its detail. A nil tree produces the
// degraded form: no text, no kids, zero descendants.
func StoryRecord(stub crawler.ItemStub, text string, tree *commenttree.Tree) crawler.Record {
	rec := crawler.Record{
		ID:    stub.ID,
		Type:  crawler.RecordTypeStory,
		Title: stub.Title,
		URL:   stub.URL,
		By:    stub.Author,
		Time:  stub.Time,
		Score: stub.Score,
		Kids:  []int64{},
	}
	if tree == nil {
		return rec
	}
	rec.Text = text
	rec.Kids = append(rec.Kids, tree.Roots...)
	// Total rows on the page, not a recursive sum of children.
	rec.Descendants = tree.Descendants()
	return rec
}

// CommentRecords flattens a tree into one record per node, in document order.
func CommentRecords(tree commenttree.Tree) []crawler.Record {
	out := make([]crawler.Record, 0, len(tree.Nodes))
	for _, n := range tree.Nodes {
		parent := n.ParentID
		deleted := n.Deleted
		out = append(out, crawler.Record{
			ID:          n.ID,
			Type:        crawler.RecordTypeComment,
			By:          n.Author,
			Time:        n.Time,
			Score:       n.Score,
			Text:        n.BodyHTML,
			Descendants: n.DirectDescendants(),
			Kids:        append([]int64{}, n.Children...),
			Parent:      &parent,
			Deleted:     &deleted,
		})
	}
	return out
}
