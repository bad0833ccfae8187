package crawler

import (
	"net/http"
	"time"
)

// RecordType distinguishes story records from comment records.
type RecordType string

// Record types written to segments.
const (
	RecordTypeStory   RecordType = "story"
	RecordTypeComment RecordType = "comment"
)

// ItemStub is the minimal identity of a crawlable item as seen on a listing page.
type ItemStub struct {
	ID          int64
	Title       string
	URL         string
	Author      string
	Time        int64
	Score       int
	Descendants int
}

// Key returns the dedup identity of the stub.
func (s ItemStub) Key() string {
	return formatID(s.ID)
}

// CommentRow is one raw discussion entry parsed from a detail page.
// Depth is a nesting hint derived from page rendering; rows carry no parent reference.
type CommentRow struct {
	ID       int64
	Depth    int
	Author   string
	Time     int64
	Score    int
	BodyHTML string
	Deleted  bool
}

// ListingPage is one parsed page yielded by the frontier.
type ListingPage struct {
	Cursor  Cursor
	URL     string
	Items   []ItemStub
	HasMore bool
	// Unavailable marks a page whose fetch failed after retries.
	Unavailable bool
}

// Detail is the parsed content of one item's detail page.
type Detail struct {
	StoryText string
	Rows      []CommentRow
}

// Cursor addresses a listing page. Day is zero for undated listings.
type Cursor struct {
	Day      time.Time
	DayIndex int
	Page     int
}

// DayLabel renders the cursor day the way archive endpoints expect it.
func (c Cursor) DayLabel() string {
	if c.Day.IsZero() {
		return ""
	}
	return c.Day.Format("2006-01-02")
}

// Record is the flat, write-once unit persisted to segments.
type Record struct {
	ID          int64      `json:"id"`
	Type        RecordType `json:"type"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	By          string     `json:"by"`
	Time        int64      `json:"time"`
	Score       int        `json:"score"`
	Text        string     `json:"text"`
	Descendants int        `json:"descendants"`
	Kids        []int64    `json:"kids"`
	Parent      *int64     `json:"parent,omitempty"`
	Deleted     *bool      `json:"deleted,omitempty"`
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Attempts   int
}

// SegmentInfo describes one flushed segment.
type SegmentInfo struct {
	RunID     string    `json:"run_id"`
	Sequence  int       `json:"sequence"`
	URI       string    `json:"uri"`
	Records   int       `json:"records"`
	MinID     int64     `json:"min_id"`
	MaxID     int64     `json:"max_id"`
	Bytes     int       `json:"bytes"`
	Hash      string    `json:"hash"`
	FlushedAt time.Time `json:"flushed_at"`
}
