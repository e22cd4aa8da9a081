package geocoding

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"field-route-service/internal/entity"
)

const (
	DefaultBaseURL   = "https://nominatim.openstreetmap.org"
	DefaultUserAgent = "FieldRouteService/1.0"
)

// Geocoder resolves a free-form address. A nil result with a nil error means
// the address is unknown to the provider.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*entity.Coordinates, error)
}

// ErrGeocodingFailed is returned when the provider could not be asked or
// answered with something unusable. It is worth retrying.
type ErrGeocodingFailed struct {
	Address string
	Reason  string
}

func (e *ErrGeocodingFailed) Error() string {
	return fmt.Sprintf("geocoding failed for address: %s - %s", e.Address, e.Reason)
}

type NominatimGeocoder struct {
	baseURL     string
	userAgent   string
	httpClient  *http.Client
	rateLimiter *time.Ticker
	logger      *slog.Logger
}

type nominatimResponse struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// NewNominatimGeocoder allows one request per second, the public
// endpoint's usage policy.
func NewNominatimGeocoder(baseURL, userAgent string, logger *slog.Logger) *NominatimGeocoder {
	return newNominatimGeocoder(baseURL, userAgent, time.Second, logger)
}

func newNominatimGeocoder(baseURL, userAgent string, every time.Duration, logger *slog.Logger) *NominatimGeocoder {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NominatimGeocoder{
		baseURL:   baseURL,
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		rateLimiter: time.NewTicker(every),
		logger:      logger,
	}
}

func (g *NominatimGeocoder) Close() {
	g.rateLimiter.Stop()
}

func (g *NominatimGeocoder) Geocode(ctx context.Context, address string) (*entity.Coordinates, error) {
	select {
	case <-g.rateLimiter.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	queryURL := fmt.Sprintf("%s/search?q=%s&format=json&limit=1", g.baseURL, url.QueryEscape(address))
	g.logger.Debug("geocode request", "address", address)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, queryURL, nil)
	if err != nil {
		return nil, &ErrGeocodingFailed{Address: address, Reason: err.Error()}
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &ErrGeocodingFailed{Address: address, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ErrGeocodingFailed{
			Address: address,
			Reason:  fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body)),
		}
	}

	var results []nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, &ErrGeocodingFailed{Address: address, Reason: err.Error()}
	}
	if len(results) == 0 {
		g.logger.Info("geocode no result", "address", address)
		return nil, nil
	}

	result := results[0]
	lat, err := strconv.ParseFloat(result.Lat, 64)
	if err != nil {
		return nil, &ErrGeocodingFailed{Address: address, Reason: "invalid latitude"}
	}
	lng, err := strconv.ParseFloat(result.Lon, 64)
	if err != nil {
		return nil, &ErrGeocodingFailed{Address: address, Reason: "invalid longitude"}
	}

	g.logger.Debug("geocode response", "address", address, "lat", lat, "lng", lng, "display_name", result.DisplayName)
	return &entity.Coordinates{Lat: lat, Lng: lng}, nil
}
