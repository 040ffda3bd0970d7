package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const geoSnippetLimit = 120

// UserLocation is the position reported by an IP geolocation provider.
type UserLocation struct {
	Latitude  float64
	Longitude float64
	City      string
	Region    string
	Country   string
	Source    string
}

type geoProvider struct {
	name     string
	endpoint string
}

var defaultGeoProviders = []geoProvider{
	{name: "ipapi", endpoint: "https://ipapi.co/json/"},
	{name: "ipwhois", endpoint: "https://ipwho.is/"},
	{name: "ipinfo", endpoint: "https://ipinfo.io/json"},
}

// Locator asks the geolocation providers in order and keeps the first
// answer. Failures are not cached.
type Locator struct {
	httpClient *http.Client
	providers  []geoProvider
	logger     *slog.Logger

	mu       sync.Mutex
	location *UserLocation
}

func NewLocator(httpClient *http.Client, logger *slog.Logger) *Locator {
	return newLocator(httpClient, logger, defaultGeoProviders)
}

func newLocator(httpClient *http.Client, logger *slog.Logger, providers []geoProvider) *Locator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 8 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Locator{httpClient: httpClient, providers: providers, logger: logger}
}

// Locate returns the remembered location or looks it up.
func (l *Locator) Locate(ctx context.Context) (UserLocation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.location != nil {
		return *l.location, nil
	}
	if len(l.providers) == 0 {
		return UserLocation{}, errors.New("no location providers configured")
	}

	var errs []error
	for _, provider := range l.providers {
		location, err := l.ask(ctx, provider)
		if err == nil {
			l.logger.Info("location detected", "source", location.Source, "city", location.City)
			l.location = &location
			return location, nil
		}
		if ctx.Err() != nil {
			return UserLocation{}, ctx.Err()
		}
		l.logger.Debug("location provider failed", "provider", provider.name, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", provider.name, err))
	}
	return UserLocation{}, fmt.Errorf("all location providers failed: %w", errors.Join(errs...))
}

func (l *Locator) ask(ctx context.Context, provider geoProvider) (UserLocation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.endpoint, nil)
	if err != nil {
		return UserLocation{}, fmt.Errorf("create location request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)

	res, err := l.httpClient.Do(req)
	if err != nil {
		return UserLocation{}, fmt.Errorf("location request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		if msg := geoSnippet(raw); msg != "" {
			return UserLocation{}, fmt.Errorf("%s: %s", res.Status, msg)
		}
		return UserLocation{}, errors.New(res.Status)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return UserLocation{}, fmt.Errorf("read location response: %w", err)
	}
	location, err := decodeGeo(body)
	if err != nil {
		return UserLocation{}, err
	}
	location.Source = provider.name
	return location, nil
}

// geoPayload is the union of the ipapi, ipwho.is and ipinfo response
// shapes. "error" is a bool on ipapi and an object on ipinfo.
type geoPayload struct {
	Latitude    float64         `json:"latitude"`
	Longitude   float64         `json:"longitude"`
	Loc         string          `json:"loc"`
	City        string          `json:"city"`
	Region      string          `json:"region"`
	Country     string          `json:"country"`
	CountryName string          `json:"country_name"`
	Success     *bool           `json:"success"`
	Message     string          `json:"message"`
	Reason      string          `json:"reason"`
	Bogon       bool            `json:"bogon"`
	Error       json.RawMessage `json:"error"`
}

func decodeGeo(body []byte) (UserLocation, error) {
	var p geoPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return UserLocation{}, fmt.Errorf("decode location response: %w", err)
	}
	if err := p.failure(); err != nil {
		return UserLocation{}, err
	}

	location := UserLocation{
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		City:      p.City,
		Region:    p.Region,
		Country:   p.CountryName,
	}
	if location.Country == "" {
		location.Country = p.Country
	}
	if p.Loc != "" {
		lat, lng, err := parseLoc(p.Loc)
		if err != nil {
			return UserLocation{}, err
		}
		location.Latitude, location.Longitude = lat, lng
	}
	if location.Latitude == 0 && location.Longitude == 0 {
		return UserLocation{}, errors.New("provider returned empty coordinates")
	}
	return location, nil
}

func (p geoPayload) failure() error {
	if p.Success != nil && !*p.Success {
		return errors.New(firstNonEmpty(p.Message, "provider returned unsuccessful response"))
	}
	if p.Bogon {
		return errors.New("bogon IP")
	}
	raw := strings.TrimSpace(string(p.Error))
	switch {
	case raw == "true":
		return errors.New(firstNonEmpty(p.Reason, "unknown error"))
	case strings.HasPrefix(raw, "{"):
		var detail struct {
			Title   string `json:"title"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(p.Error, &detail); err == nil {
			if msg := firstNonEmpty(detail.Message, detail.Title); msg != "" {
				return errors.New(msg)
			}
		}
	}
	return nil
}

// parseLoc reads ipinfo's "lat,lng" pair.
func parseLoc(loc string) (float64, float64, error) {
	latText, lngText, ok := strings.Cut(loc, ",")
	if !ok {
		return 0, 0, fmt.Errorf("invalid loc %q", loc)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latText), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(lngText), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse longitude: %w", err)
	}
	return lat, lng, nil
}

// geoSnippet shortens an error body for messages. HTML pages are dropped.
func geoSnippet(raw []byte) string {
	text := strings.Join(strings.Fields(string(raw)), " ")
	lower := strings.ToLower(text)
	if strings.Contains(lower, "<html") || strings.Contains(lower, "<!doctype") {
		return ""
	}
	if len(text) > geoSnippetLimit {
		text = text[:geoSnippetLimit]
	}
	return text
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
