package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/hn-archive-crawler/internal/crawler"
	"github.com/JakeFAU/hn-archive-crawler/internal/crawler/crawlertest"
	"github.com/JakeFAU/hn-archive-crawler/internal/dedup"
)

type fakeSink struct {
	mu      sync.Mutex
	batches [][]crawler.Record
	err     error
}

func (s *fakeSink) Append(_ context.Context, records ...crawler.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, records)
	return nil
}

func newWorker(t *testing.T, origin *crawlertest.Origin, sink *fakeSink) *Worker {
	t.Helper()
	w, err := New(origin, origin, dedup.New(), sink, zap.NewNop())
	require.NoError(t, err)
	return w
}

func TestProcessEmitsStoryAndComments(t *testing.T) {
	t.Parallel()

	origin := crawlertest.NewOrigin()
	origin.SetDetail(42, crawler.Detail{
		StoryText: "<p>hello</p>",
		Rows: []crawler.CommentRow{
			{ID: 1, Depth: 0, Author: "a", BodyHTML: "one"},
			{ID: 2, Depth: 1, Author: "b", BodyHTML: "[deleted]", Deleted: true},
			{ID: 3, Depth: 0, Author: "c", BodyHTML: "three"},
		},
	})
	sink := &fakeSink{}
	w := newWorker(t, origin, sink)

	stub := crawlertest.Stubs(42, 1)[0]
	claimed, err := w.Process(context.Background(), stub)
	require.NoError(t, err)
	require.True(t, claimed)
	require.Len(t, sink.batches, 1, "story and comments arrive in one append")

	recs := sink.batches[0]
	require.Len(t, recs, 4)
	story := recs[0]
	require.Equal(t, crawler.RecordTypeStory, story.Type)
	require.Equal(t, stub.Title, story.Title)
	require.Equal(t, "<p>hello</p>", story.Text)
	require.Equal(t, []int64{1, 3}, story.Kids)
	require.Equal(t, 3, story.Descendants)
	require.Nil(t, story.Parent)
	require.Nil(t, story.Deleted)

	deleted := recs[2]
	require.Equal(t, int64(2), deleted.ID)
	require.Equal(t, int64(1), *deleted.Parent)
	require.True(t, *deleted.Deleted)
	require.Empty(t, deleted.Text)

	first := recs[1]
	require.Equal(t, []int64{2}, first.Kids)
	require.Equal(t, 1, first.Descendants)
	require.Equal(t, int64(42), *first.Parent)
	require.False(t, *first.Deleted)
}

func TestProcessSkipsClaimedItems(t *testing.T) {
	t.Parallel()

	origin := crawlertest.NewOrigin()
	sink := &fakeSink{}
	w := newWorker(t, origin, sink)
	stub := crawlertest.Stubs(7, 1)[0]

	claimed, err := w.Process(context.Background(), stub)
	require.NoError(t, err)
	require.True(t, claimed)
	claimed, err = w.Process(context.Background(), stub)
	require.NoError(t, err)
	require.False(t, claimed)

	require.Equal(t, 1, origin.DetailCalls(7))
	require.Len(t, sink.batches, 1)
}

func TestProcessDegradesOnFetchFailure(t *testing.T) {
	t.Parallel()

	origin := crawlertest.NewOrigin()
	origin.FailDetail(9, &crawler.FetchError{Reason: crawler.ReasonExhaustedRetries, StatusCode: 503, Attempts: 3})
	origin.SetDetail(9, crawler.Detail{StoryText: "ignored", Rows: []crawler.CommentRow{{ID: 1}}})
	sink := &fakeSink{}
	w := newWorker(t, origin, sink)

	claimed, err := w.Process(context.Background(), crawlertest.Stubs(9, 1)[0])
	require.NoError(t, err)
	require.True(t, claimed)
	require.Len(t, sink.batches[0], 1)
	rec := sink.batches[0][0]
	require.Empty(t, rec.Text)
	require.Zero(t, rec.Descendants)
	require.NotNil(t, rec.Kids)
	require.Empty(t, rec.Kids)

	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"kids":[]`)
	require.NotContains(t, string(raw), `"parent"`)
}

func TestProcessDegradesOnParseFailure(t *testing.T) {
	t.Parallel()

	origin := crawlertest.NewOrigin()
	origin.FailParse(11, errors.New("no fatitem"))
	sink := &fakeSink{}
	w := newWorker(t, origin, sink)

	claimed, err := w.Process(context.Background(), crawlertest.Stubs(11, 1)[0])
	require.NoError(t, err)
	require.True(t, claimed)
	require.Len(t, sink.batches[0], 1)
	require.Equal(t, crawler.RecordTypeStory, sink.batches[0][0].Type)
}

func TestProcessReturnsSinkError(t *testing.T) {
	t.Parallel()

	origin := crawlertest.NewOrigin()
	sink := &fakeSink{err: errors.New("disk full")}
	w := newWorker(t, origin, sink)

	claimed, err := w.Process(context.Background(), crawlertest.Stubs(5, 1)[0])
	require.True(t, claimed)
	require.ErrorContains(t, err, "disk full")
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil, nil, nil, nil)
	require.Error(t, err)
}
