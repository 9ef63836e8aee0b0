// Package geocode resolves free-text addresses to coordinates and back via
// a Nominatim-style provider, memoizing results for the session. A provider
// miss is a valid outcome, reported as a nil result rather than an error.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/observability"
)

// Client talks to the geocoding provider, biased to one country/region.
// The cache is unbounded for the session; addresses are treated as static.
type Client struct {
	endpoint string
	region   string
	http     *http.Client

	mu    sync.RWMutex
	cache map[string]*models.ResolvedAddress
}

func NewClient(endpoint, region string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		region:   region,
		http:     &http.Client{Timeout: 5 * time.Second},
		cache:    make(map[string]*models.ResolvedAddress),
	}
}

type providerResult struct {
	Lat         string            `json:"lat"`
	Lon         string            `json:"lon"`
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address,omitempty"`
}

// Resolve geocodes free text. Returns (nil, nil) when the provider finds no
// match; repeated identical queries never make a second network call.
func (c *Client) Resolve(ctx context.Context, addressText string) (*models.ResolvedAddress, error) {
	key := "q:" + normalizeQuery(addressText)
	if hit, ok := c.fromCache(key); ok {
		return hit, nil
	}

	q := url.Values{}
	q.Set("q", addressText)
	q.Set("format", "json")
	q.Set("limit", "1")
	q.Set("addressdetails", "1")
	if c.region != "" {
		q.Set("countrycodes", c.region)
	}
	results, err := c.fetch(ctx, c.endpoint+"/search?"+q.Encode())
	if err != nil {
		return nil, err
	}

	resolved := firstResolved(results)
	c.store(key, resolved)
	return resolved, nil
}

// ReverseResolve looks up the address for a coordinate, cached by a
// quantized "lat,lng" key.
func (c *Client) ReverseResolve(ctx context.Context, coord models.Coordinate) (*models.ResolvedAddress, error) {
	key := "r:" + quantize(coord)
	if hit, ok := c.fromCache(key); ok {
		return hit, nil
	}

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(coord.Lat, 'f', 6, 64))
	q.Set("lon", strconv.FormatFloat(coord.Lng, 'f', 6, 64))
	q.Set("format", "json")
	raw, err := c.fetchOne(ctx, c.endpoint+"/reverse?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var resolved *models.ResolvedAddress
	if raw != nil {
		resolved = toResolved(*raw)
	}
	c.store(key, resolved)
	return resolved, nil
}

func (c *Client) fromCache(key string) (*models.ResolvedAddress, bool) {
	c.mu.RLock()
	hit, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		observability.GeocodeCacheHits.Inc()
	} else {
		observability.GeocodeCacheMisses.Inc()
	}
	return hit, ok
}

func (c *Client) store(key string, addr *models.ResolvedAddress) {
	c.mu.Lock()
	c.cache[key] = addr
	c.mu.Unlock()
}

func (c *Client) fetch(ctx context.Context, u string) ([]providerResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode: provider status %d", resp.StatusCode)
	}
	var out []providerResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("geocode: decode: %w", err)
	}
	return out, nil
}

// fetchOne handles the reverse endpoint, which returns a single object or an
// error payload when nothing is found.
func (c *Client) fetchOne(ctx context.Context, u string) (*providerResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geocode: provider status %d", resp.StatusCode)
	}
	var out providerResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("geocode: decode: %w", err)
	}
	if out.Lat == "" && out.Lon == "" {
		// Nominatim reports "unable to geocode" with a 200 and no coords.
		return nil, nil
	}
	return &out, nil
}

func firstResolved(results []providerResult) *models.ResolvedAddress {
	if len(results) == 0 {
		return nil
	}
	return toResolved(results[0])
}

func toResolved(r providerResult) *models.ResolvedAddress {
	lat, err1 := strconv.ParseFloat(r.Lat, 64)
	lng, err2 := strconv.ParseFloat(r.Lon, 64)
	if err1 != nil || err2 != nil {
		return nil
	}
	coord := models.Coordinate{Lat: lat, Lng: lng}
	if !coord.Valid() {
		return nil
	}
	return &models.ResolvedAddress{
		Coordinate:  coord,
		DisplayName: r.DisplayName,
		Components:  r.Address,
	}
}

func normalizeQuery(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// quantize rounds to ~1m precision so nearby reverse lookups share a key.
func quantize(c models.Coordinate) string {
	return fmt.Sprintf("%.5f,%.5f", c.Lat, c.Lng)
}
