// Package controller drives a crawl: it pulls listing pages from the
// frontier, fans their items out to the detail pool, waits for the pool to
// drain, and decides when to stop.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/hn-archive-crawler/internal/crawler"
	"github.com/JakeFAU/hn-archive-crawler/internal/persist"
)

// State is a controller lifecycle state.
type State int

// Controller states.
const (
	StateWalking State = iota
	StateDispatching
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateWalking:
		return "WALKING"
	case StateDispatching:
		return "DISPATCHING"
	case StateDraining:
		return "DRAINING"
	case StateTerminated:
		return "TERMINATED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Reason explains why a crawl terminated.
type Reason string

// Termination reasons.
const (
	ReasonEmptyStreak Reason = "empty-streak"
	ReasonExhausted   Reason = "frontier-exhausted"
	ReasonPageCeiling Reason = "page-ceiling"
	ReasonCanceled    Reason = "canceled"
)

const (
	defaultEmptyPageThreshold = 3
	defaultCloseTimeout       = 30 * time.Second
)

// Config controls termination.
type Config struct {
	// EmptyPageThreshold is the number of consecutive listing pages yielding
	// no new items that ends the crawl.
	EmptyPageThreshold int
	// MaxListingPages is a hard ceiling on listing pages. Zero is unbounded.
	MaxListingPages int
	// CloseTimeout bounds the final flush after cancellation.
	CloseTimeout time.Duration
}

// Walker yields listing pages in order. A range-bounded walker is only
// stopped by exhaustion; the empty-page streak applies to unbounded ones.
type Walker interface {
	Next(ctx context.Context) (crawler.ListingPage, bool, error)
	RangeBounded() bool
}

// Pool runs detail tasks.
type Pool interface {
	Submit(ctx context.Context, stub crawler.ItemStub) error
	Drain() int
	Failed() int
}

// Buffer is the persistence buffer closed at termination.
type Buffer interface {
	Close(ctx context.Context) error
	Stats() persist.Stats
}

// Summary reports a finished crawl. ItemsFailed counts claimed items whose
// records never reached the buffer.
type Summary struct {
	ListingPages int
	ItemsSeen    int
	ItemsClaimed int
	ItemsFailed  int
	Records      int
	Segments     int
	Reason       Reason
	Duration     time.Duration
}

// Controller owns the cursor bookkeeping and termination counters of one
// crawl. It is single-use.
type Controller struct {
	cfg    Config
	walker Walker
	pool   Pool
	buffer Buffer
	logger *zap.Logger
	tracer trace.Tracer

	state   State
	streak  int
	summary Summary
	onState func(State)
}

// New builds a Controller.
func New(cfg Config, walker Walker, pool Pool, buffer Buffer, logger *zap.Logger) (*Controller, error) {
	if walker == nil || pool == nil || buffer == nil {
		return nil, errors.New("controller: walker, pool and buffer are required")
	}
	if cfg.EmptyPageThreshold <= 0 {
		cfg.EmptyPageThreshold = defaultEmptyPageThreshold
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = defaultCloseTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:    cfg,
		walker: walker,
		pool:   pool,
		buffer: buffer,
		logger: logger.Named("controller"),
		tracer: otel.Tracer("github.com/JakeFAU/hn-archive-crawler/internal/controller"),
		state:  StateWalking,
	}, nil
}

// State returns the current state. Only meaningful from the Run goroutine
// or after Run returns.
func (c *Controller) State() State {
	return c.state
}

func (c *Controller) enter(s State) {
	c.state = s
	if c.onState != nil {
		c.onState(s)
	}
}

// Run crawls until a termination condition holds, then closes the buffer.
// Cancelling ctx stops dispatch and still performs the final flush. The
// returned error is only set when the final flush fails.
func (c *Controller) Run(ctx context.Context) (Summary, error) {
	if c.state == StateTerminated {
		return c.summary, errors.New("controller: already terminated")
	}
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "crawl.run")
	defer span.End()

	c.summary.Reason = c.loop(ctx)
	c.enter(StateTerminated)

	closeCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		closeCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), c.cfg.CloseTimeout)
		defer cancel()
	}
	closeErr := c.buffer.Close(closeCtx)

	c.summary.ItemsFailed = c.pool.Failed()
	stats := c.buffer.Stats()
	c.summary.Records = stats.Records
	c.summary.Segments = stats.Segments
	c.summary.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("crawl.reason", string(c.summary.Reason)),
		attribute.Int("crawl.listing_pages", c.summary.ListingPages),
		attribute.Int("crawl.items_claimed", c.summary.ItemsClaimed),
		attribute.Int("crawl.records", c.summary.Records),
	)
	c.logger.Info("crawl finished",
		zap.String("reason", string(c.summary.Reason)),
		zap.Int("listing_pages", c.summary.ListingPages),
		zap.Int("items_seen", c.summary.ItemsSeen),
		zap.Int("items_claimed", c.summary.ItemsClaimed),
		zap.Int("items_failed", c.summary.ItemsFailed),
		zap.Int("records_persisted", c.summary.Records),
		zap.Int("segments", c.summary.Segments),
		zap.Duration("duration", c.summary.Duration),
	)
	if closeErr != nil {
		span.RecordError(closeErr)
		return c.summary, fmt.Errorf("final flush: %w", closeErr)
	}
	return c.summary, nil
}

func (c *Controller) loop(ctx context.Context) Reason {
	for {
		c.enter(StateWalking)
		page, ok, err := c.walker.Next(ctx)
		if err != nil {
			c.logger.Warn("frontier stopped", zap.Error(err))
			return ReasonCanceled
		}
		if !ok {
			return ReasonExhausted
		}
		c.summary.ListingPages++

		fresh, canceled := c.processPage(ctx, page)
		if canceled {
			return ReasonCanceled
		}
		if fresh == 0 {
			c.streak++
		} else {
			c.streak = 0
		}
		c.logger.Info("listing page processed",
			zap.String("day", page.Cursor.DayLabel()),
			zap.Int("page", page.Cursor.Page),
			zap.Int("items", len(page.Items)),
			zap.Int("new", fresh),
			zap.Int("empty_streak", c.streak),
			zap.Bool("unavailable", page.Unavailable),
		)

		if !c.walker.RangeBounded() && c.streak >= c.cfg.EmptyPageThreshold {
			return ReasonEmptyStreak
		}
		if c.cfg.MaxListingPages > 0 && c.summary.ListingPages >= c.cfg.MaxListingPages {
			return ReasonPageCeiling
		}
	}
}

// processPage dispatches a page's stubs and waits for them. It returns the
// number of newly claimed items.
func (c *Controller) processPage(ctx context.Context, page crawler.ListingPage) (fresh int, canceled bool) {
	ctx, span := c.tracer.Start(ctx, "crawl.listing_page", trace.WithAttributes(
		attribute.String("listing.url", page.URL),
		attribute.Int("listing.page", page.Cursor.Page),
		attribute.Int("listing.items", len(page.Items)),
	))
	defer span.End()

	c.enter(StateDispatching)
	for _, stub := range page.Items {
		if err := c.pool.Submit(ctx, stub); err != nil {
			canceled = true
			break
		}
		c.summary.ItemsSeen++
	}
	c.enter(StateDraining)
	fresh = c.pool.Drain()
	c.summary.ItemsClaimed += fresh
	span.SetAttributes(attribute.Int("listing.new_items", fresh))
	return fresh, canceled
}
