// Package geo measures the straight-line distance between two CEPs using
// ViaCEP for addresses and Nominatim for coordinates.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/cep-candidate-scraper/internal/fetcher/colly"
)

// Default service endpoints.
const (
	DefaultViaCEPURL    = "https://viacep.com.br/ws"
	DefaultNominatimURL = "https://nominatim.openstreetmap.org/search"
	DefaultUserAgent    = "cepscraper-distance"
)

const earthRadiusKm = 6371.0

var (
	// ErrInvalidCEP is returned for malformed or unknown postal codes.
	ErrInvalidCEP = errors.New("invalid CEP")
	// ErrNotFound is returned when an address cannot be geocoded.
	ErrNotFound = errors.New("coordinates not found")
)

// Getter performs one GET.
type Getter interface {
	Fetch(ctx context.Context, request collyfetcher.Request) (collyfetcher.Response, error)
}

// Address is the ViaCEP lookup result.
type Address struct {
	CEP      string `json:"cep"`
	Street   string `json:"logradouro"`
	District string `json:"bairro"`
	City     string `json:"localidade"`
	State    string `json:"uf"`
}

// Query renders the address as a Nominatim free-form query.
func (a Address) Query() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{a.Street, a.City, a.State} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(append(parts, "Brazil"), ", ")
}

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// Config holds endpoints and the identifying User-Agent Nominatim requires.
type Config struct {
	ViaCEPURL    string
	NominatimURL string
	UserAgent    string
}

// Client resolves CEPs to coordinates. Pacing is the Getter's job.
type Client struct {
	cfg    Config
	getter Getter
	logger *zap.Logger
}

// New builds a Client, filling endpoint defaults.
func New(cfg Config, getter Getter, logger *zap.Logger) *Client {
	if cfg.ViaCEPURL == "" {
		cfg.ViaCEPURL = DefaultViaCEPURL
	}
	if cfg.NominatimURL == "" {
		cfg.NominatimURL = DefaultNominatimURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, getter: getter, logger: logger}
}

// NormalizeCEP strips punctuation and checks for eight digits.
func NormalizeCEP(cep string) (string, error) {
	var b strings.Builder
	for _, r := range cep {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '.' || r == ' ':
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidCEP, cep)
		}
	}
	if b.Len() != 8 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCEP, cep)
	}
	return b.String(), nil
}

// Lookup fetches the address of cep from ViaCEP.
func (c *Client) Lookup(ctx context.Context, cep string) (Address, error) {
	digits, err := NormalizeCEP(cep)
	if err != nil {
		return Address{}, err
	}
	resp, err := c.getter.Fetch(ctx, collyfetcher.Request{
		URL: strings.TrimRight(c.cfg.ViaCEPURL, "/") + "/" + digits + "/json/",
	})
	if err != nil {
		return Address{}, fmt.Errorf("viacep lookup %s: %w", digits, err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(resp.Body, &raw); err != nil {
		return Address{}, fmt.Errorf("decode viacep response: %w", err)
	}
	if _, failed := raw["erro"]; failed {
		return Address{}, fmt.Errorf("%w: %s", ErrInvalidCEP, digits)
	}
	var addr Address
	if err := json.Unmarshal(resp.Body, &addr); err != nil {
		return Address{}, fmt.Errorf("decode viacep address: %w", err)
	}
	c.logger.Info("address found", zap.String("cep", digits), zap.String("query", addr.Query()))
	return addr, nil
}

// Geocode finds the first Nominatim match for addr.
func (c *Client) Geocode(ctx context.Context, addr Address) (Point, error) {
	q := url.Values{}
	q.Set("q", addr.Query())
	q.Set("format", "json")
	q.Set("limit", "1")
	resp, err := c.getter.Fetch(ctx, collyfetcher.Request{
		URL:     c.cfg.NominatimURL,
		Query:   q,
		Headers: http.Header{"User-Agent": {c.cfg.UserAgent}},
	})
	if err != nil {
		return Point{}, fmt.Errorf("geocode %q: %w", addr.Query(), err)
	}
	var results []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.Unmarshal(resp.Body, &results); err != nil {
		return Point{}, fmt.Errorf("decode nominatim response: %w", err)
	}
	if len(results) == 0 {
		return Point{}, fmt.Errorf("%w: %q", ErrNotFound, addr.Query())
	}
	lat, errLat := strconv.ParseFloat(results[0].Lat, 64)
	lon, errLon := strconv.ParseFloat(results[0].Lon, 64)
	if err := errors.Join(errLat, errLon); err != nil {
		return Point{}, fmt.Errorf("parse coordinates: %w", err)
	}
	p := Point{Lat: lat, Lon: lon}
	c.logger.Info("coordinates found", zap.Float64("lat", lat), zap.Float64("lon", lon))
	return p, nil
}

// Distance returns the great-circle distance in km between two CEPs,
// rounded to two decimals.
func (c *Client) Distance(ctx context.Context, cep1, cep2 string) (float64, error) {
	points := make([]Point, 0, 2)
	addrs := make([]Address, 0, 2)
	for _, cep := range []string{cep1, cep2} {
		addr, err := c.Lookup(ctx, cep)
		if err != nil {
			return 0, err
		}
		addrs = append(addrs, addr)
	}
	for _, addr := range addrs {
		p, err := c.Geocode(ctx, addr)
		if err != nil {
			return 0, err
		}
		points = append(points, p)
	}
	return Round2(Haversine(points[0], points[1])), nil
}

// Haversine returns the great-circle distance in km.
func Haversine(a, b Point) float64 {
	lat1, lon1 := radians(a.Lat), radians(a.Lon)
	lat2, lon2 := radians(b.Lat), radians(b.Lon)
	dlat, dlon := lat2-lat1, lon2-lon1
	h := math.Pow(math.Sin(dlat/2), 2) + math.Cos(lat1)*math.Cos(lat2)*math.Pow(math.Sin(dlon/2), 2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// Round2 rounds to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
