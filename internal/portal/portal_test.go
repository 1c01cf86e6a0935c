package portal

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	collyfetcher "github.com/JakeFAU/cep-candidate-scraper/internal/fetcher/colly"
	"github.com/JakeFAU/cep-candidate-scraper/internal/extract"
	"github.com/JakeFAU/cep-candidate-scraper/internal/scrape"
)

type recordingGetter struct {
	requests []collyfetcher.Request
	body     string
	err      error
}

func (g *recordingGetter) Fetch(_ context.Context, req collyfetcher.Request) (collyfetcher.Response, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return collyfetcher.Response{}, g.err
	}
	return collyfetcher.Response{StatusCode: 200, Body: []byte(g.body)}, nil
}

func testConfig() Config {
	return Config{
		ListURL:       "https://portal.example/company/CandidateCatho",
		DetailURL:     "https://portal.example/Company/CandidateCatho/Detail/",
		PageSize:      100,
		MaxDistance:   5,
		ListHeaders:   map[string]string{"Accept-Language": "pt-BR"},
		DetailHeaders: map[string]string{"Cache-Control": "max-age=0"},
		ListCookies:   map[string]string{"list": "1"},
		DetailCookies: map[string]string{"detail": "1"},
	}
}

func TestFetchPageBuildsListingQuery(t *testing.T) {
	t.Parallel()

	g := &recordingGetter{body: `<div id="candidate-10"></div><div data-id="11"></div><span id="MatchSearchTotal">1.234</span>`}
	c := New(testConfig(), g)

	facet := scrape.Facet{PostalCode: "01310-000"}.WithAge(scrape.NewAgeRange(18, 20))
	listing, err := c.FetchPage(context.Background(), 4, facet)
	require.NoError(t, err)
	require.Equal(t, []string{"10", "11"}, listing.IDs)

	total, ok := c.ExtractTotalCount(listing.Raw)
	require.True(t, ok)
	require.Equal(t, 1234, total)

	req := g.requests[0]
	require.Equal(t, "https://portal.example/company/CandidateCatho", req.URL)
	require.Equal(t, "4", req.Query.Get("Pagination[PageNumber]"))
	require.Equal(t, "100", req.Query.Get("Pagination[PageSize]"))
	require.Equal(t, "01310-000", req.Query.Get("CEP"))
	require.Equal(t, "5", req.Query.Get("MaxDistance"))
	require.Equal(t, "18", req.Query.Get("AgeMin"))
	require.Equal(t, "20", req.Query.Get("AgeMax"))
	require.Equal(t, "pt-BR", req.Headers.Get("Accept-Language"))
	require.Equal(t, map[string]string{"list": "1"}, req.Cookies)
}

func TestListingQueryOmitsAbsentAgeBounds(t *testing.T) {
	t.Parallel()

	c := New(testConfig(), nil).WithMaxDistance(12)
	q := c.ListingQuery(0, scrape.Facet{PostalCode: "02989-110"})
	require.False(t, q.Has("AgeMin"))
	require.False(t, q.Has("AgeMax"))
	require.Equal(t, "12", q.Get("MaxDistance"))
}

func TestFetchDetailsSetsReferer(t *testing.T) {
	t.Parallel()

	g := &recordingGetter{body: "<html/>"}
	c := New(testConfig(), g)

	raw, err := c.FetchDetails(context.Background(), "51400036")
	require.NoError(t, err)
	require.Equal(t, "<html/>", raw)

	req := g.requests[0]
	want := "https://portal.example/Company/CandidateCatho/Detail/51400036"
	require.Equal(t, want, req.URL)
	require.Equal(t, want, req.Headers.Get("Referer"))
	require.Equal(t, "max-age=0", req.Headers.Get("Cache-Control"))
	require.Equal(t, map[string]string{"detail": "1"}, req.Cookies)
}

func TestErrorsCarryPageAndCandidate(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	c := New(testConfig(), &recordingGetter{err: boom})

	_, err := c.FetchPage(context.Background(), 7, scrape.Facet{PostalCode: "1"})
	var fe *scrape.FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, 7, fe.Page)
	require.ErrorIs(t, err, boom)

	_, err = c.FetchDetails(context.Background(), "99")
	require.ErrorAs(t, err, &fe)
	require.Equal(t, "99", fe.CandidateID)

	_, err = c.Extract("99", "<html>login</html>")
	require.ErrorIs(t, err, extract.ErrNoProfile)
}
