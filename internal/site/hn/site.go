// Package hn knows the Hacker News endpoints and how to read their HTML.
package hn

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/hn-archive-crawler/internal/crawler"
)

// DefaultOrigin is the public Hacker News site.
const DefaultOrigin = "https://news.ycombinator.com"

// Site implements crawler.Site for Hacker News.
type Site struct {
	origin *url.URL
}

// New builds a Site rooted at origin (scheme and host, optional path).
func New(origin string) (*Site, error) {
	if strings.TrimSpace(origin) == "" {
		origin = DefaultOrigin
	}
	u, err := url.Parse(strings.TrimRight(origin, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.New("origin must be an absolute URL")
	}
	return &Site{origin: u}, nil
}

// Name implements crawler.Site.
func (s *Site) Name() string { return "hn" }

// Origin implements crawler.Site.
func (s *Site) Origin() string {
	return strings.TrimSuffix(s.origin.String(), "/")
}

// ListingURL returns /front?day=...&p=N for dated cursors and /news?p=N for
// undated ones. Page 1 omits p.
func (s *Site) ListingURL(cursor crawler.Cursor) (string, url.Values) {
	params := url.Values{}
	endpoint := "news"
	if day := cursor.DayLabel(); day != "" {
		endpoint = "front"
		params.Set("day", day)
	}
	if cursor.Page > 1 {
		params.Set("p", strconv.Itoa(cursor.Page))
	}
	return s.resolve(endpoint), params
}

// DetailURL implements crawler.Site.
func (s *Site) DetailURL(id int64) (string, url.Values) {
	return s.resolve("item"), url.Values{"id": {strconv.FormatInt(id, 10)}}
}

func (s *Site) resolve(ref string) string {
	u, err := s.origin.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}
