package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	collyfetcher "github.com/JakeFAU/cep-candidate-scraper/internal/fetcher/colly"
	"github.com/JakeFAU/cep-candidate-scraper/internal/retry"
)

func fakeServices(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var agents []string
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ws/01310000/json/":
			_, _ = w.Write([]byte(`{"cep":"01310-000","logradouro":"Avenida Paulista","localidade":"São Paulo","uf":"SP"}`))
		case "/ws/20040002/json/":
			_, _ = w.Write([]byte(`{"cep":"20040-002","logradouro":"Rua da Assembleia","localidade":"Rio de Janeiro","uf":"RJ"}`))
		default:
			_, _ = w.Write([]byte(`{"erro": true}`))
		}
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		agents = append(agents, r.Header.Get("User-Agent"))
		q := r.URL.Query().Get("q")
		switch {
		case strings.HasPrefix(q, "Avenida Paulista"):
			_, _ = w.Write([]byte(`[{"lat":"0","lon":"0"}]`))
		case strings.HasPrefix(q, "Rua da Assembleia"):
			_, _ = w.Write([]byte(`[{"lat":"1","lon":"0"}]`))
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &agents
}

func newClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	f, err := collyfetcher.New(collyfetcher.Config{
		Timeout: 2 * time.Second,
		Retry:   retry.Linear{MaxAttempts: 1},
	})
	require.NoError(t, err)
	return New(Config{
		ViaCEPURL:    srv.URL + "/ws",
		NominatimURL: srv.URL + "/search",
		UserAgent:    "cep-distance-test",
	}, f, nil)
}

func TestDistance(t *testing.T) {
	t.Parallel()

	srv, agents := fakeServices(t)
	km, err := newClient(t, srv).Distance(context.Background(), "01310-000", "20040-002")
	require.NoError(t, err)
	require.InDelta(t, 111.19, km, 1e-9)
	require.Equal(t, []string{"cep-distance-test", "cep-distance-test"}, *agents)
}

func TestLookupInvalidCEP(t *testing.T) {
	t.Parallel()

	srv, _ := fakeServices(t)
	c := newClient(t, srv)

	_, err := c.Lookup(context.Background(), "99999-999")
	require.ErrorIs(t, err, ErrInvalidCEP)

	_, err = c.Lookup(context.Background(), "123")
	require.ErrorIs(t, err, ErrInvalidCEP)
}

func TestGeocodeNotFound(t *testing.T) {
	t.Parallel()

	srv, _ := fakeServices(t)
	_, err := newClient(t, srv).Geocode(context.Background(), Address{City: "Atlantis"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNormalizeCEP(t *testing.T) {
	t.Parallel()

	got, err := NormalizeCEP(" 01310-000 ")
	require.NoError(t, err)
	require.Equal(t, "01310000", got)

	_, err = NormalizeCEP("0131A-000")
	require.ErrorIs(t, err, ErrInvalidCEP)
}

func TestAddressQuery(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Avenida Paulista, São Paulo, SP, Brazil",
		Address{Street: "Avenida Paulista", City: "São Paulo", State: "SP"}.Query())
	require.Equal(t, "Brasília, DF, Brazil", Address{City: "Brasília", State: "DF"}.Query())
}

func TestHaversine(t *testing.T) {
	t.Parallel()

	require.Zero(t, Haversine(Point{Lat: -23.55, Lon: -46.63}, Point{Lat: -23.55, Lon: -46.63}))
	require.Equal(t, 111.19, Round2(Haversine(Point{}, Point{Lat: 1})))
	sp := Point{Lat: -23.5505, Lon: -46.6333}
	rio := Point{Lat: -22.9068, Lon: -43.1729}
	require.InDelta(t, 357, Haversine(sp, rio), 5)
}
