package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mr1hm/go-weather-alerts/internal/metrics"
	"github.com/mr1hm/go-weather-alerts/internal/models"
)

const maxResponseBytes = 1 << 20

type Options struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Client resolves free-text locations through a Nominatim-compatible search
// endpoint. Every call goes through the shared RateGate.
type Client struct {
	baseURL    string
	userAgent  string
	timeout    time.Duration
	httpClient *http.Client
	gate       *RateGate
}

func NewClient(opts Options, gate *RateGate) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if gate == nil {
		gate = NewRateGate(0)
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		userAgent:  opts.UserAgent,
		timeout:    timeout,
		httpClient: &http.Client{},
		gate:       gate,
	}
}

// coordinate accepts both "42.69" and 42.69.
type coordinate struct {
	value float64
	set   bool
}

func (c *coordinate) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "null" || s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid coordinate %s: %w", b, err)
	}
	c.value, c.set = f, true
	return nil
}

type place struct {
	Lat         coordinate `json:"lat"`
	Lon         coordinate `json:"lon"`
	DisplayName string     `json:"display_name"`
}

// Lookup waits for the rate gate, issues one search request and returns the
// first match. Failures are reported as *Error; cancellation of ctx is
// returned as the context error.
func (c *Client) Lookup(ctx context.Context, location string) (models.Coordinates, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return models.Coordinates{}, &Error{Kind: KindNoMatch, Location: location}
	}

	if err := c.gate.Wait(ctx); err != nil {
		return models.Coordinates{}, fmt.Errorf("waiting for geocoding rate gate: %w", err)
	}

	start := time.Now()
	coords, err := c.fetch(ctx, location)
	metrics.ObserveGeocodingLookup(string(KindOf(err)), err == nil, time.Since(start))
	return coords, err
}

func (c *Client) fetch(ctx context.Context, location string) (models.Coordinates, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("q", location)
	q.Set("format", "json")
	q.Set("limit", "1")
	searchURL := c.baseURL + "/search?" + q.Encode()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, searchURL, nil)
	if err != nil {
		return models.Coordinates{}, &Error{Kind: KindTransport, Location: location, Msg: "error creating request", Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	slog.Debug("calling geocoding service", "url", searchURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Coordinates{}, c.classify(ctx, reqCtx, location, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Coordinates{}, &Error{
			Kind:     KindTransport,
			Location: location,
			Msg:      fmt.Sprintf("unexpected status code: %d - status: %s", resp.StatusCode, resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return models.Coordinates{}, c.classify(ctx, reqCtx, location, "error reading response body", err)
	}

	var places []place
	if err := json.Unmarshal(body, &places); err != nil {
		return models.Coordinates{}, &Error{Kind: KindParse, Location: location, Msg: "error decoding response body", Err: err}
	}
	if len(places) == 0 {
		return models.Coordinates{}, &Error{Kind: KindNoMatch, Location: location}
	}

	first := places[0]
	if !first.Lat.set || !first.Lon.set {
		return models.Coordinates{}, &Error{Kind: KindParse, Location: location, Msg: "result is missing lat/lon"}
	}

	slog.Debug("geocoding match", "location", location, "display_name", first.DisplayName)
	return models.Coordinates{Latitude: first.Lat.value, Longitude: first.Lon.value}, nil
}

// classify separates caller cancellation, the per-call timeout and other
// transport failures.
func (c *Client) classify(parent, reqCtx context.Context, location, msg string, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("geocoding %q: %w", location, parent.Err())
	}

	var netErr net.Error
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{
			Kind:     KindTimeout,
			Location: location,
			Msg:      fmt.Sprintf("no response within %s", c.timeout),
			Err:      err,
		}
	}
	return &Error{Kind: KindTransport, Location: location, Msg: msg, Err: err}
}
