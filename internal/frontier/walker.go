// Package frontier walks the addressable dimensions of a listing archive and
// yields parsed listing pages in strict order.
package frontier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/hn-archive-crawler/internal/clock/system"
	"github.com/JakeFAU/hn-archive-crawler/internal/crawler"
	"github.com/JakeFAU/hn-archive-crawler/internal/metrics"
)

// Mode selects how the frontier is addressed.
type Mode string

// Supported modes.
const (
	// ModeArchive walks calendar days backward, then pages within each day.
	ModeArchive Mode = "archive"
	// ModePaged walks a single undated page dimension.
	ModePaged Mode = "paged"
)

// Listing page outcomes reported to metrics.
const (
	outcomeItems       = "items"
	outcomeEmpty       = "empty"
	outcomeUnavailable = "unavailable"
)

// Config controls the walk.
type Config struct {
	Mode Mode
	// EndDate is the most recent day walked; zero means today (UTC).
	EndDate time.Time
	// Days is the size of the historical window in archive mode.
	Days int
	// MaxPages caps pages per day (archive) or in total (paged). Zero is unbounded.
	MaxPages int
}

// Waiter spaces successive listing fetches.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Walker yields listing pages lazily. It is not safe for concurrent use; the
// controller drives it from a single goroutine.
type Walker struct {
	cfg     Config
	site    crawler.Site
	fetcher crawler.Fetcher
	limiter Waiter
	logger  *zap.Logger

	end      time.Time
	dayIndex int
	page     int
	done     bool
	day      dayStats
}

type dayStats struct {
	pages   int
	stories int
	minID   int64
	maxID   int64
}

// New constructs a Walker. limiter may be nil for no politeness delay.
func New(cfg Config, site crawler.Site, fetcher crawler.Fetcher, limiter Waiter, logger *zap.Logger) (*Walker, error) {
	if site == nil || fetcher == nil {
		return nil, errors.New("frontier: site and fetcher are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = ModeArchive
	case ModeArchive, ModePaged:
	default:
		return nil, fmt.Errorf("frontier: unknown mode %q", cfg.Mode)
	}
	if cfg.Mode == ModeArchive && cfg.Days <= 0 {
		return nil, errors.New("frontier: archive mode requires days > 0")
	}
	end := cfg.EndDate
	if end.IsZero() {
		end = system.New().Today()
	}
	return &Walker{
		cfg:     cfg,
		site:    site,
		fetcher: fetcher,
		limiter: limiter,
		logger:  logger.Named("frontier"),
		end:     system.StartOfDay(end),
		page:    1,
		day:     newDayStats(),
	}, nil
}

func newDayStats() dayStats {
	return dayStats{minID: math.MaxInt64, maxID: math.MinInt64}
}

// RangeBounded reports whether the walk ends on its own. Archive walks stop
// after the configured days; paged walks rely on the caller to stop them.
func (w *Walker) RangeBounded() bool {
	return w.cfg.Mode == ModeArchive
}

// Next returns the next listing page. ok is false once the walk is exhausted.
// The only error returned is context cancellation; unavailable pages are
// reported through ListingPage.Unavailable.
func (w *Walker) Next(ctx context.Context) (crawler.ListingPage, bool, error) {
	if w.cfg.Mode == ModePaged {
		return w.nextPaged(ctx)
	}
	return w.nextArchive(ctx)
}

func (w *Walker) nextArchive(ctx context.Context) (crawler.ListingPage, bool, error) {
	for !w.done {
		if w.dayIndex >= w.cfg.Days {
			w.done = true
			break
		}
		cursor := crawler.Cursor{
			Day:      w.end.AddDate(0, 0, -w.dayIndex),
			DayIndex: w.dayIndex,
			Page:     w.page,
		}
		page, err := w.fetch(ctx, cursor)
		if err != nil {
			return crawler.ListingPage{}, false, err
		}
		if len(page.Items) == 0 {
			if w.page == 1 {
				w.logger.Info("day has no items, skipping",
					zap.String("day", cursor.DayLabel()),
					zap.Int("day_index", w.dayIndex+1),
					zap.Int("days", w.cfg.Days),
					zap.Bool("unavailable", page.Unavailable),
				)
			}
			w.endDay(cursor)
			continue
		}

		w.day.pages++
		w.day.stories += len(page.Items)
		for _, item := range page.Items {
			w.day.minID = min(w.day.minID, item.ID)
			w.day.maxID = max(w.day.maxID, item.ID)
		}
		if !page.HasMore || (w.cfg.MaxPages > 0 && w.page >= w.cfg.MaxPages) {
			w.endDay(cursor)
		} else {
			w.page++
		}
		return page, true, nil
	}
	return crawler.ListingPage{}, false, nil
}

func (w *Walker) endDay(cursor crawler.Cursor) {
	if w.day.pages > 0 {
		w.logger.Info("day complete",
			zap.String("day", cursor.DayLabel()),
			zap.Int("day_index", w.dayIndex+1),
			zap.Int("days", w.cfg.Days),
			zap.Int("stories", w.day.stories),
			zap.Int64("min_id", w.day.minID),
			zap.Int64("max_id", w.day.maxID),
			zap.Int("pages", w.day.pages),
		)
	}
	w.dayIndex++
	w.page = 1
	w.day = newDayStats()
}

func (w *Walker) nextPaged(ctx context.Context) (crawler.ListingPage, bool, error) {
	if w.done || (w.cfg.MaxPages > 0 && w.page > w.cfg.MaxPages) {
		w.done = true
		return crawler.ListingPage{}, false, nil
	}
	page, err := w.fetch(ctx, crawler.Cursor{Page: w.page})
	if err != nil {
		return crawler.ListingPage{}, false, err
	}
	w.page++
	// Empty pages are yielded so the controller can count them; a populated
	// page without a more marker is the last one.
	if len(page.Items) > 0 && !page.HasMore {
		w.done = true
	}
	return page, true, nil
}

// fetch retrieves and parses one listing page. Fetch and parse failures
// produce an empty, unavailable page.
func (w *Walker) fetch(ctx context.Context, cursor crawler.Cursor) (crawler.ListingPage, error) {
	rawURL, params := w.site.ListingURL(cursor)
	page := crawler.ListingPage{Cursor: cursor, URL: rawURL}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, rawURL); err != nil {
			return page, fmt.Errorf("frontier: %w", err)
		}
	}
	resp, err := w.fetcher.Fetch(ctx, rawURL, params)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return page, fmt.Errorf("frontier: %w", ctxErr)
	}
	if err != nil {
		w.logger.Warn("listing page unavailable",
			zap.String("url", rawURL),
			zap.String("day", cursor.DayLabel()),
			zap.Int("page", cursor.Page),
			zap.Error(err),
		)
		metrics.ObserveListingPage(outcomeUnavailable)
		page.Unavailable = true
		return page, nil
	}
	page.URL = resp.URL

	items, hasMore, err := w.site.ParseListing(resp.Body, cursor)
	if err != nil {
		w.logger.Warn("listing page unparsable",
			zap.String("url", resp.URL),
			zap.Int("page", cursor.Page),
			zap.Error(err),
		)
		metrics.ObserveListingPage(outcomeUnavailable)
		page.Unavailable = true
		return page, nil
	}
	page.Items = items
	page.HasMore = hasMore

	outcome := outcomeItems
	if len(items) == 0 {
		outcome = outcomeEmpty
	}
	metrics.ObserveListingPage(outcome)
	w.logger.Debug("listing page fetched",
		zap.String("url", resp.URL),
		zap.String("day", cursor.DayLabel()),
		zap.Int("page", cursor.Page),
		zap.Int("items", len(items)),
		zap.Bool("more", hasMore),
	)
	return page, nil
}
