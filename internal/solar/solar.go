package solar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Default service endpoints.
const (
	defaultGeoURL   = "http://ip-api.com/json"
	defaultTimesURL = "https://api.sunrise-sunset.org/json"
)

// lookupTimeout bounds each external call.
const lookupTimeout = 10 * time.Second

// ErrLookupFailed is returned when an external lookup cannot be
// completed. Callers retain their previous schedule and retry on the
// next daily recompute, never immediately.
var ErrLookupFailed = errors.New("solar: external lookup failed")

// Coordinates is an observer location.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Times are the day's solar events at one location.
type Times struct {
	Sunrise time.Time
	Sunset  time.Time
}

// Locator resolves the observer's coordinates.
type Locator interface {
	CurrentCoordinates(ctx context.Context) (Coordinates, error)
}

// TimesProvider fetches sunrise/sunset for a location and date.
type TimesProvider interface {
	SolarTimes(ctx context.Context, coords Coordinates, date time.Time) (Times, error)
}

// FixedLocator always returns configured coordinates. Used when the
// deployment knows where it is and IP geolocation is unwanted.
type FixedLocator struct {
	Coords Coordinates
}

// CurrentCoordinates implements Locator.
func (l FixedLocator) CurrentCoordinates(context.Context) (Coordinates, error) {
	return l.Coords, nil
}

// IPLocator resolves coordinates from the deployment's public IP via
// the ip-api.com service. Accuracy is city-level, which is enough for
// sunrise/sunset computation.
type IPLocator struct {
	// BaseURL overrides the service endpoint. Tests point this at a
	// local server. Empty means the public service.
	BaseURL string

	// Client overrides the HTTP client. Nil means a default with a
	// 10 second timeout.
	Client *http.Client
}

// CurrentCoordinates implements Locator.
func (l *IPLocator) CurrentCoordinates(ctx context.Context) (Coordinates, error) {
	base := l.BaseURL
	if base == "" {
		base = defaultGeoURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base, nil)
	if err != nil {
		return Coordinates{}, fmt.Errorf("%w: building geolocation request: %w", ErrLookupFailed, err)
	}

	resp, err := l.client().Do(req)
	if err != nil {
		return Coordinates{}, fmt.Errorf("%w: geolocation: %w", ErrLookupFailed, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Best effort cleanup

	if resp.StatusCode != http.StatusOK {
		return Coordinates{}, fmt.Errorf("%w: geolocation status %d", ErrLookupFailed, resp.StatusCode)
	}

	var body struct {
		Status string  `json:"status"`
		Lat    float64 `json:"lat"`
		Lon    float64 `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Coordinates{}, fmt.Errorf("%w: decoding geolocation response: %w", ErrLookupFailed, err)
	}
	if body.Status != "success" {
		return Coordinates{}, fmt.Errorf("%w: geolocation status %q", ErrLookupFailed, body.Status)
	}

	return Coordinates{Latitude: body.Lat, Longitude: body.Lon}, nil
}

func (l *IPLocator) client() *http.Client {
	if l.Client != nil {
		return l.Client
	}
	return &http.Client{Timeout: lookupTimeout}
}

// APITimesProvider fetches sunrise/sunset from api.sunrise-sunset.org.
type APITimesProvider struct {
	// BaseURL overrides the service endpoint for tests.
	BaseURL string

	// Client overrides the HTTP client.
	Client *http.Client
}

// SolarTimes implements TimesProvider.
//
// The service is queried with formatted=0 so it returns full ISO-8601
// timestamps in UTC rather than locale-formatted clock strings.
func (p *APITimesProvider) SolarTimes(ctx context.Context, coords Coordinates, date time.Time) (Times, error) {
	base := p.BaseURL
	if base == "" {
		base = defaultTimesURL
	}

	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(coords.Latitude, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(coords.Longitude, 'f', -1, 64))
	q.Set("date", date.Format("2006-01-02"))
	q.Set("formatted", "0")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return Times{}, fmt.Errorf("%w: building solar request: %w", ErrLookupFailed, err)
	}

	resp, err := p.client().Do(req)
	if err != nil {
		return Times{}, fmt.Errorf("%w: solar lookup: %w", ErrLookupFailed, err)
	}
	defer resp.Body.Close() //nolint:errcheck // Best effort cleanup

	if resp.StatusCode != http.StatusOK {
		return Times{}, fmt.Errorf("%w: solar lookup status %d", ErrLookupFailed, resp.StatusCode)
	}

	var body struct {
		Status  string `json:"status"`
		Results struct {
			Sunrise string `json:"sunrise"`
			Sunset  string `json:"sunset"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Times{}, fmt.Errorf("%w: decoding solar response: %w", ErrLookupFailed, err)
	}
	if body.Status != "OK" {
		return Times{}, fmt.Errorf("%w: solar lookup status %q", ErrLookupFailed, body.Status)
	}

	sunrise, err := time.Parse(time.RFC3339, body.Results.Sunrise)
	if err != nil {
		return Times{}, fmt.Errorf("%w: parsing sunrise: %w", ErrLookupFailed, err)
	}
	sunset, err := time.Parse(time.RFC3339, body.Results.Sunset)
	if err != nil {
		return Times{}, fmt.Errorf("%w: parsing sunset: %w", ErrLookupFailed, err)
	}

	return Times{Sunrise: sunrise, Sunset: sunset}, nil
}

func (p *APITimesProvider) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return &http.Client{Timeout: lookupTimeout}
}
