package hn

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hn-archive-crawler/internal/commenttree"
	"github.com/JakeFAU/hn-archive-crawler/internal/crawler"
)

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return data
}

func newSite(t *testing.T) *Site {
	t.Helper()
	s, err := New("")
	require.NoError(t, err)
	return s
}

var day = time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)

func TestURLs(t *testing.T) {
	t.Parallel()

	s, err := New("https://hn.example.test/")
	require.NoError(t, err)
	assert.Equal(t, "https://hn.example.test", s.Origin())

	u, params := s.ListingURL(crawler.Cursor{Day: day, Page: 1})
	assert.Equal(t, "https://hn.example.test/front", u)
	assert.Equal(t, "day=2024-03-09", params.Encode())

	u, params = s.ListingURL(crawler.Cursor{Day: day, Page: 3})
	assert.Equal(t, "https://hn.example.test/front", u)
	assert.Equal(t, "day=2024-03-09&p=3", params.Encode())

	u, params = s.ListingURL(crawler.Cursor{Page: 2})
	assert.Equal(t, "https://hn.example.test/news", u)
	assert.Equal(t, "p=2", params.Encode())

	u, params = s.DetailURL(39650002)
	assert.Equal(t, "https://hn.example.test/item", u)
	assert.Equal(t, "id=39650002", params.Encode())

	_, err = New("not a url")
	assert.Error(t, err)
	assert.Equal(t, DefaultOrigin, newSite(t).Origin())
}

func TestParseListing(t *testing.T) {
	t.Parallel()

	stubs, more, err := newSite(t).ParseListing(fixture(t, "front.html"), crawler.Cursor{Day: day, Page: 1})
	require.NoError(t, err)
	require.True(t, more)
	require.Len(t, stubs, 3)

	assert.Equal(t, crawler.ItemStub{
		ID:          39650001,
		Title:       "A garbage collector in <100 lines",
		URL:         "https://example.com/rust-gc",
		Author:      "alice",
		Time:        1709993000,
		Score:       412,
		Descendants: 187,
	}, stubs[0])

	ask := stubs[1]
	assert.Equal(t, "https://news.ycombinator.com/item?id=39650002", ask.URL)
	assert.Equal(t, time.Date(2024, 3, 9, 8, 0, 0, 0, time.UTC).Unix(), ask.Time)
	assert.Zero(t, ask.Descendants, "discuss means no comments")

	job := stubs[2]
	assert.Equal(t, day.Unix(), job.Time, "unparsable age falls back to the day")
	assert.Empty(t, job.Author)
	assert.Zero(t, job.Score)
	assert.Zero(t, job.Descendants)
}

func TestParseListingLastPage(t *testing.T) {
	t.Parallel()

	stubs, more, err := newSite(t).ParseListing(fixture(t, "front_last.html"), crawler.Cursor{Page: 4})
	require.NoError(t, err)
	require.False(t, more)
	require.Len(t, stubs, 1)
	assert.Equal(t, 1, stubs[0].Descendants)
	assert.Equal(t, int64(1710028799), stubs[0].Time)
}

func TestParseListingNoItems(t *testing.T) {
	t.Parallel()

	stubs, more, err := newSite(t).ParseListing(fixture(t, "blocked.html"), crawler.Cursor{Day: day, Page: 1})
	require.NoError(t, err)
	require.Empty(t, stubs)
	require.False(t, more)
}

func TestParseDetail(t *testing.T) {
	t.Parallel()

	detail, err := newSite(t).ParseDetail(fixture(t, "item.html"), 39650002)
	require.NoError(t, err)
	assert.Equal(t, "Curious what <i>everyone</i> is reading.<p>Books or papers.</p>", detail.StoryText)

	require.Len(t, detail.Rows, 5)
	depths := make([]int, 0, len(detail.Rows))
	for _, r := range detail.Rows {
		depths = append(depths, r.Depth)
	}
	assert.Equal(t, []int{0, 1, 2, 1, 0}, depths)

	first := detail.Rows[0]
	assert.Equal(t, int64(101), first.ID)
	assert.Equal(t, "dave", first.Author)
	assert.Equal(t, int64(1709974800), first.Time)
	assert.Equal(t, "Gödel, Escher, Bach.", first.BodyHTML)

	assert.Equal(t, `Seconded. <a href="https://example.com/geb" rel="nofollow">link</a>`, detail.Rows[1].BodyHTML)

	deleted := detail.Rows[2]
	assert.True(t, deleted.Deleted)
	assert.Empty(t, deleted.Author)

	assert.Zero(t, detail.Rows[4].Time, "missing age leaves time unset")
}

func TestParseDetailFeedsTreeReconstruction(t *testing.T) {
	t.Parallel()

	detail, err := newSite(t).ParseDetail(fixture(t, "item.html"), 39650002)
	require.NoError(t, err)

	tree := commenttree.Build(39650002, detail.Rows)
	assert.Equal(t, []int64{101, 105}, tree.Roots)
	n101, _ := tree.Node(101)
	assert.Equal(t, []int64{102, 104}, n101.Children)
	n103, _ := tree.Node(103)
	assert.Empty(t, n103.BodyHTML)
	assert.Equal(t, 5, tree.Descendants())
}

func TestParseDetailWithoutItemTable(t *testing.T) {
	t.Parallel()

	_, err := newSite(t).ParseDetail(fixture(t, "blocked.html"), 7)
	require.ErrorIs(t, err, crawler.ErrParse)
	var pe *crawler.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "item 7", pe.Page)
}

func TestParseAge(t *testing.T) {
	t.Parallel()

	ts, ok := parseAge("2024-03-09T14:03:11 1709993000")
	assert.True(t, ok)
	assert.Equal(t, int64(1709993000), ts)

	ts, ok = parseAge("2024-03-09T14:03:11Z")
	assert.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 9, 14, 3, 11, 0, time.UTC).Unix(), ts)

	_, ok = parseAge("")
	assert.False(t, ok)
	_, ok = parseAge("yesterday")
	assert.False(t, ok)
}
