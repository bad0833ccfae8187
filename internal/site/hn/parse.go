package hn

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/hn-archive-crawler/internal/crawler"
)

// indentWidth is the pixel width of one nesting level in the comment table.
const indentWidth = 40

const deletedMarker = "[deleted]"

// ParseListing extracts story stubs and whether a "More" link is present.
// Rows without an id or title link are skipped.
func (s *Site) ParseListing(body []byte, cursor crawler.Cursor) ([]crawler.ItemStub, bool, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, false, &crawler.ParseError{Page: "listing " + cursorLabel(cursor), Err: err}
	}

	fallback := int64(0)
	if !cursor.Day.IsZero() {
		fallback = cursor.Day.Unix()
	}

	var stubs []crawler.ItemStub
	doc.Find("tr.athing").Each(func(_ int, row *goquery.Selection) {
		if row.HasClass("comtr") {
			return
		}
		id, err := strconv.ParseInt(row.AttrOr("id", ""), 10, 64)
		if err != nil {
			return
		}
		link := row.Find(".titleline > a").First()
		if link.Length() == 0 {
			return
		}
		stub := crawler.ItemStub{
			ID:    id,
			Title: strings.TrimSpace(link.Text()),
			URL:   s.resolve(link.AttrOr("href", "")),
			Time:  fallback,
		}
		if sub := row.Next(); sub.Length() > 0 {
			stub.Score = leadingInt(sub.Find("span.score").Text())
			stub.Author = strings.TrimSpace(sub.Find("a.hnuser").Text())
			if ts, ok := parseAge(sub.Find("span.age").AttrOr("title", "")); ok {
				stub.Time = ts
			}
			sub.Find("a").Each(func(_ int, a *goquery.Selection) {
				if strings.HasPrefix(a.AttrOr("href", ""), "item?id=") && strings.Contains(a.Text(), "comment") {
					stub.Descendants = commentCount(a.Text())
				}
			})
		}
		stubs = append(stubs, stub)
	})

	hasMore := doc.Find("a.morelink").Length() > 0
	return stubs, hasMore, nil
}

// ParseDetail extracts the story text and the flat comment rows of an item
// page. A page without the item table (an error or rate-limit page) is a
// parse error.
func (s *Site) ParseDetail(body []byte, itemID int64) (crawler.Detail, error) {
	page := "item " + strconv.FormatInt(itemID, 10)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.Detail{}, &crawler.ParseError{Page: page, Err: err}
	}
	fat := doc.Find("table.fatitem")
	if fat.Length() == 0 {
		return crawler.Detail{}, &crawler.ParseError{Page: page, Err: errors.New("item table not found")}
	}

	var detail crawler.Detail
	if text := fat.Find("div.toptext, .commtext").First(); text.Length() > 0 {
		detail.StoryText = innerHTML(text)
	}

	doc.Find("tr.comtr").Each(func(_ int, row *goquery.Selection) {
		id, err := strconv.ParseInt(row.AttrOr("id", ""), 10, 64)
		if err != nil {
			return
		}
		c := crawler.CommentRow{ID: id, Depth: depthOf(row)}
		cell := row.Find("td.default")
		if cell.Length() == 0 {
			c.Deleted = true
			detail.Rows = append(detail.Rows, c)
			return
		}
		if text := cell.Find(".commtext").First(); text.Length() > 0 {
			c.BodyHTML = innerHTML(text)
		}
		head := cell.Find(".comhead")
		c.Deleted = c.BodyHTML == deletedMarker ||
			(c.BodyHTML == "" && strings.Contains(head.Text(), deletedMarker))
		c.Author = strings.TrimSpace(head.Find("a.hnuser").Text())
		if ts, ok := parseAge(head.Find("span.age").AttrOr("title", "")); ok {
			c.Time = ts
		}
		c.Score = leadingInt(head.Find("span.score").Text())
		detail.Rows = append(detail.Rows, c)
	})
	return detail, nil
}

// depthOf reads the nesting hint from the indent spacer. Missing or
// unparsable hints are top level.
func depthOf(row *goquery.Selection) int {
	ind := row.Find("td.ind").First()
	if w, err := strconv.Atoi(ind.Find("img").AttrOr("width", "")); err == nil && w >= 0 {
		return w / indentWidth
	}
	if n, err := strconv.Atoi(ind.AttrOr("indent", "")); err == nil && n >= 0 {
		return n
	}
	return 0
}

// parseAge reads an age title: an ISO timestamp optionally followed by the
// unix seconds ("2024-03-10T12:34:56 1710074096").
func parseAge(title string) (int64, bool) {
	fields := strings.Fields(title)
	if len(fields) == 0 {
		return 0, false
	}
	if len(fields) > 1 {
		if ts, err := strconv.ParseInt(fields[1], 10, 64); err == nil {
			return ts, true
		}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, fields[0]); err == nil {
			return t.Unix(), true
		}
	}
	return 0, false
}

// commentCount reads "123 comments" or "1&nbsp;comment".
func commentCount(text string) int {
	text = strings.ReplaceAll(text, " ", " ")
	for _, tok := range strings.Fields(text) {
		if n, err := strconv.Atoi(tok); err == nil {
			return n
		}
	}
	return 0
}

func leadingInt(text string) int {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0
	}
	return n
}

func innerHTML(sel *goquery.Selection) string {
	html, err := sel.Html()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(html)
}

func cursorLabel(cursor crawler.Cursor) string {
	if day := cursor.DayLabel(); day != "" {
		return day + " p" + strconv.Itoa(cursor.Page)
	}
	return "p" + strconv.Itoa(cursor.Page)
}
