// Package worker implements the per-item detail task: claim, fetch, parse,
// reconstruct, and hand the resulting records to the persistence buffer.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/hn-archive-crawler/internal/commenttree"
	"github.com/JakeFAU/hn-archive-crawler/internal/crawler"
	"github.com/JakeFAU/hn-archive-crawler/internal/metrics"
)

// Detail failure reasons reported to metrics.
const (
	failureFetch = "fetch"
	failureParse = "parse"
)

// Worker processes item stubs. A single Worker is shared by every pool slot;
// it holds no per-item state.
type Worker struct {
	site    crawler.Site
	fetcher crawler.Fetcher
	ledger  crawler.Ledger
	sink    crawler.RecordSink
	logger  *zap.Logger
}

// New constructs a Worker.
func New(
	site crawler.Site,
	fetcher crawler.Fetcher,
	ledger crawler.Ledger,
	sink crawler.RecordSink,
	logger *zap.Logger,
) (*Worker, error) {
	if site == nil || fetcher == nil || ledger == nil || sink == nil {
		return nil, errors.New("worker: site, fetcher, ledger and sink are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		site:    site,
		fetcher: fetcher,
		ledger:  ledger,
		sink:    sink,
		logger:  logger.Named("worker"),
	}, nil
}

// Process handles one stub. claimed reports whether this call won the dedup
// claim; an unclaimed stub does no network work. Fetch and parse failures
// degrade to a bare story record and are not returned. The returned error is
// only set when the sink rejects the records.
func (w *Worker) Process(ctx context.Context, stub crawler.ItemStub) (claimed bool, err error) {
	if !w.ledger.Claim(stub.Key()) {
		metrics.ObserveItem(false)
		return false, nil
	}
	metrics.ObserveItem(true)
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	records := w.records(ctx, stub)
	if err := w.sink.Append(ctx, records...); err != nil {
		return true, fmt.Errorf("append item %d: %w", stub.ID, err)
	}
	return true, nil
}

func (w *Worker) records(ctx context.Context, stub crawler.ItemStub) []crawler.Record {
	rawURL, params := w.site.DetailURL(stub.ID)
	resp, err := w.fetcher.Fetch(ctx, rawURL, params)
	if err != nil {
		metrics.ObserveDetailFailure(failureFetch)
		w.logger.Warn("detail fetch failed, keeping bare story",
			zap.Int64("id", stub.ID),
			zap.String("url", rawURL),
			zap.Bool("rate_limited", errors.Is(err, crawler.ErrRateLimited)),
			zap.Error(err),
		)
		return []crawler.Record{StoryRecord(stub, "", nil)}
	}

	detail, err := w.site.ParseDetail(resp.Body, stub.ID)
	if err != nil {
		metrics.ObserveDetailFailure(failureParse)
		w.logger.Warn("detail parse failed, keeping bare story",
			zap.Int64("id", stub.ID),
			zap.String("url", resp.URL),
			zap.Error(err),
		)
		return []crawler.Record{StoryRecord(stub, "", nil)}
	}

	tree := commenttree.Build(stub.ID, detail.Rows)
	out := make([]crawler.Record, 0, 1+len(tree.Nodes))
	out = append(out, StoryRecord(stub, detail.StoryText, &tree))
	out = append(out, CommentRecords(tree)...)
	w.logger.Debug("item processed",
		zap.Int64("id", stub.ID),
		zap.Int("comments", tree.Descendants()),
		zap.Duration("fetch_duration", resp.Duration),
	)
	return out
}
