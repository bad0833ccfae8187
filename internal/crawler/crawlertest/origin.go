// Package crawlertest provides a scripted in-memory origin implementing both
// crawler.Site and crawler.Fetcher for tests.
package crawlertest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/JakeFAU/hn-archive-crawler/internal/crawler"
)

const (
	base       = "https://origin.test"
	listingURL = base + "/front"
	detailURL  = base + "/item"
)

// Listing is the scripted content of one listing page.
type Listing struct {
	Items   []crawler.ItemStub
	HasMore bool
}

// Origin serves scripted listings and details. Unscripted listing pages are
// empty; unscripted details have no comments.
type Origin struct {
	mu sync.Mutex

	listings     map[string]Listing
	details      map[int64]crawler.Detail
	listingFails map[string]error
	detailFails  map[int64]error
	parseFails   map[int64]error
	detailDelay  time.Duration

	listingCalls []string
	detailCalls  map[int64]int
}

// NewOrigin constructs an empty origin.
func NewOrigin() *Origin {
	return &Origin{
		listings:     make(map[string]Listing),
		details:      make(map[int64]crawler.Detail),
		listingFails: make(map[string]error),
		detailFails:  make(map[int64]error),
		parseFails:   make(map[int64]error),
		detailCalls:  make(map[int64]int),
	}
}

// Key renders a cursor as "<day>/<page>"; undated cursors render as "/<page>".
func Key(cursor crawler.Cursor) string {
	return cursor.DayLabel() + "/" + strconv.Itoa(cursor.Page)
}

// SetListing scripts the page at key.
func (o *Origin) SetListing(key string, l Listing) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listings[key] = l
}

// FailListing makes the listing fetch at key fail with err.
func (o *Origin) FailListing(key string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listingFails[key] = err
}

// SetDetail scripts the detail page for id.
func (o *Origin) SetDetail(id int64, d crawler.Detail) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.details[id] = d
}

// FailDetail makes the detail fetch for id fail with err.
func (o *Origin) FailDetail(id int64, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.detailFails[id] = err
}

// FailParse makes the detail parse for id fail with err.
func (o *Origin) FailParse(id int64, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.parseFails[id] = err
}

// SetDetailDelay delays every detail fetch by d.
func (o *Origin) SetDetailDelay(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.detailDelay = d
}

// ListingCalls returns the listing keys fetched, in order.
func (o *Origin) ListingCalls() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.listingCalls...)
}

// DetailCalls returns how many times the detail for id was fetched.
func (o *Origin) DetailCalls(id int64) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.detailCalls[id]
}

// TotalDetailCalls returns the number of detail fetches.
func (o *Origin) TotalDetailCalls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	total := 0
	for _, n := range o.detailCalls {
		total += n
	}
	return total
}

// Name implements crawler.Site.
func (o *Origin) Name() string { return "test" }

// Origin implements crawler.Site.
func (o *Origin) Origin() string { return base }

// ListingURL implements crawler.Site.
func (o *Origin) ListingURL(cursor crawler.Cursor) (string, url.Values) {
	params := url.Values{"p": {strconv.Itoa(cursor.Page)}}
	if day := cursor.DayLabel(); day != "" {
		params.Set("day", day)
	}
	return listingURL, params
}

// DetailURL implements crawler.Site.
func (o *Origin) DetailURL(id int64) (string, url.Values) {
	return detailURL, url.Values{"id": {strconv.FormatInt(id, 10)}}
}

// ParseListing implements crawler.Site.
func (o *Origin) ParseListing(_ []byte, cursor crawler.Cursor) ([]crawler.ItemStub, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	l := o.listings[Key(cursor)]
	return append([]crawler.ItemStub(nil), l.Items...), l.HasMore, nil
}

// ParseDetail implements crawler.Site.
func (o *Origin) ParseDetail(_ []byte, itemID int64) (crawler.Detail, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.parseFails[itemID]; err != nil {
		return crawler.Detail{}, &crawler.ParseError{Page: "item " + strconv.FormatInt(itemID, 10), Err: err}
	}
	return o.details[itemID], nil
}

// Fetch implements crawler.Fetcher.
func (o *Origin) Fetch(ctx context.Context, rawURL string, params url.Values) (crawler.FetchResponse, error) {
	full := rawURL + "?" + params.Encode()
	switch rawURL {
	case listingURL:
		key := params.Get("day") + "/" + params.Get("p")
		o.mu.Lock()
		o.listingCalls = append(o.listingCalls, key)
		err := o.listingFails[key]
		o.mu.Unlock()
		if err != nil {
			return crawler.FetchResponse{}, err
		}
		return crawler.FetchResponse{URL: full, StatusCode: http.StatusOK, Body: []byte(key), Attempts: 1}, nil
	case detailURL:
		id, err := strconv.ParseInt(params.Get("id"), 10, 64)
		if err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("crawlertest: bad id: %w", err)
		}
		o.mu.Lock()
		o.detailCalls[id]++
		delay := o.detailDelay
		fail := o.detailFails[id]
		o.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return crawler.FetchResponse{}, &crawler.FetchError{Reason: crawler.ReasonTransport, URL: full, Err: ctx.Err()}
			}
		}
		if fail != nil {
			return crawler.FetchResponse{}, fail
		}
		return crawler.FetchResponse{URL: full, StatusCode: http.StatusOK, Body: []byte(params.Get("id")), Attempts: 1}, nil
	}
	return crawler.FetchResponse{}, &crawler.FetchError{Reason: crawler.ReasonNon2xx, URL: full, StatusCode: http.StatusNotFound, Attempts: 1}
}

// Stubs builds n stubs with consecutive ids starting at first.
func Stubs(first int64, n int) []crawler.ItemStub {
	out := make([]crawler.ItemStub, 0, n)
	for i := range n {
		id := first + int64(i)
		out = append(out, crawler.ItemStub{
			ID:     id,
			Title:  "story " + strconv.FormatInt(id, 10),
			URL:    "https://example.com/" + strconv.FormatInt(id, 10),
			Author: "author",
			Time:   1700000000 + id,
			Score:  int(id % 100),
		})
	}
	return out
}
