package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hn-archive-crawler/internal/crawler"
)

func TestRecordAndListSegments(t *testing.T) {
	t.Parallel()

	m, err := Open(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	defer func() { require.NoError(t, m.Close()) }()
	ctx := context.Background()

	flushed := time.UnixMilli(1700000000123).UTC()
	for seq := range 3 {
		require.NoError(t, m.RecordSegment(ctx, crawler.SegmentInfo{
			RunID:     "run-a",
			Sequence:  seq,
			URI:       "file:///tmp/run-a/part.jsonl",
			Records:   10 + seq,
			MinID:     int64(seq * 100),
			MaxID:     int64(seq*100 + 99),
			Bytes:     2048,
			Hash:      "sha256:x",
			FlushedAt: flushed,
		}))
	}
	require.NoError(t, m.RecordSegment(ctx, crawler.SegmentInfo{RunID: "run-b", URI: "file:///b", FlushedAt: flushed}))
	// Duplicate is ignored.
	require.NoError(t, m.RecordSegment(ctx, crawler.SegmentInfo{RunID: "run-a", Sequence: 0, URI: "file:///dup", FlushedAt: flushed}))

	segs, err := m.Segments(ctx, "run-a")
	require.NoError(t, err)
	require.Len(t, segs, 3)
	require.Equal(t, 12, segs[2].Records)
	require.Equal(t, int64(299), segs[2].MaxID)
	require.Equal(t, "file:///tmp/run-a/part.jsonl", segs[0].URI)
	require.True(t, flushed.Equal(segs[0].FlushedAt))
}

func TestRecordSegmentValidates(t *testing.T) {
	t.Parallel()

	m, err := Open(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	defer func() { _ = m.Close() }()
	require.Error(t, m.RecordSegment(context.Background(), crawler.SegmentInfo{}))
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open("")
	require.Error(t, err)
}
