// Package portal adapts the candidate portal's listing and detail endpoints
// to the scrape interfaces.
package portal

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	collyfetcher "github.com/JakeFAU/cep-candidate-scraper/internal/fetcher/colly"
	"github.com/JakeFAU/cep-candidate-scraper/internal/extract"
	"github.com/JakeFAU/cep-candidate-scraper/internal/scrape"
)

// Getter performs one GET.
type Getter interface {
	Fetch(ctx context.Context, request collyfetcher.Request) (collyfetcher.Response, error)
}

// Config describes the portal endpoints and the session material sent with
// each request.
type Config struct {
	ListURL       string
	DetailURL     string
	PageSize      int
	MaxDistance   int
	ListHeaders   map[string]string
	DetailHeaders map[string]string
	ListCookies   map[string]string
	DetailCookies map[string]string
}

// Client implements scrape.PageFetcher and scrape.RecordExtractor.
type Client struct {
	cfg    Config
	getter Getter
}

var (
	_ scrape.PageFetcher     = (*Client)(nil)
	_ scrape.RecordExtractor = (*Client)(nil)
)

// New creates a Client.
func New(cfg Config, getter Getter) *Client {
	return &Client{cfg: cfg, getter: getter}
}

// WithMaxDistance returns a copy of the client searching within km of the
// postal code.
func (c *Client) WithMaxDistance(km int) *Client {
	cfg := c.cfg
	cfg.MaxDistance = km
	return &Client{cfg: cfg, getter: c.getter}
}

// ListingQuery builds the listing query for page and facet.
func (c *Client) ListingQuery(page int, facet scrape.Facet) url.Values {
	q := url.Values{}
	q.Set("Pagination[PageNumber]", strconv.Itoa(page))
	q.Set("Pagination[PageSize]", strconv.Itoa(c.cfg.PageSize))
	q.Set("CEP", facet.PostalCode)
	q.Set("MaxDistance", strconv.Itoa(c.cfg.MaxDistance))
	if facet.AgeMin != nil {
		q.Set("AgeMin", strconv.Itoa(*facet.AgeMin))
	}
	if facet.AgeMax != nil {
		q.Set("AgeMax", strconv.Itoa(*facet.AgeMax))
	}
	return q
}

// FetchPage retrieves one listing page.
func (c *Client) FetchPage(ctx context.Context, page int, facet scrape.Facet) (scrape.Listing, error) {
	resp, err := c.getter.Fetch(ctx, collyfetcher.Request{
		URL:     c.cfg.ListURL,
		Query:   c.ListingQuery(page, facet),
		Headers: toHeader(c.cfg.ListHeaders),
		Cookies: c.cfg.ListCookies,
	})
	if err != nil {
		return scrape.Listing{}, &scrape.FetchError{Page: page, Err: err}
	}
	raw := string(resp.Body)
	ids, err := extract.ListingIDs(raw)
	if err != nil {
		return scrape.Listing{}, &scrape.FetchError{Page: page, Err: err}
	}
	return scrape.Listing{IDs: ids, Raw: raw}, nil
}

// ExtractTotalCount reads the match counter from a listing payload.
func (c *Client) ExtractTotalCount(raw string) (int, bool) {
	return extract.TotalMatches(raw)
}

// DetailURL is the profile address of a candidate, also sent as its Referer.
func (c *Client) DetailURL(id string) string {
	return strings.TrimRight(c.cfg.DetailURL, "/") + "/" + url.PathEscape(id)
}

// FetchDetails retrieves a candidate's profile page.
func (c *Client) FetchDetails(ctx context.Context, id string) (string, error) {
	detail := c.DetailURL(id)
	headers := toHeader(c.cfg.DetailHeaders)
	headers.Set("Referer", detail)
	resp, err := c.getter.Fetch(ctx, collyfetcher.Request{
		URL:     detail,
		Headers: headers,
		Cookies: c.cfg.DetailCookies,
	})
	if err != nil {
		return "", &scrape.FetchError{CandidateID: id, Err: err}
	}
	return string(resp.Body), nil
}

// Extract parses a profile page.
func (c *Client) Extract(id string, raw string) (scrape.CandidateRecord, error) {
	rec, err := extract.Candidate(id, raw)
	if err != nil {
		return scrape.CandidateRecord{}, &scrape.FetchError{CandidateID: id, Err: err}
	}
	return rec, nil
}

func toHeader(m map[string]string) http.Header {
	h := make(http.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}
