package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"field-route-service/internal/entity"
)

func testGeocoder(t *testing.T, handler http.HandlerFunc) *NominatimGeocoder {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	g := newNominatimGeocoder(server.URL, "FieldRouteTest/1.0", time.Millisecond,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(g.Close)
	return g
}

func TestNominatimGeocodeSuccess(t *testing.T) {
	g := testGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, "12 Main St, Kennewick, WA", r.URL.Query().Get("q"))
		assert.Equal(t, "FieldRouteTest/1.0", r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]nominatimResponse{{Lat: "46.2112", Lon: "-119.1372", DisplayName: "Kennewick"}})
	})

	coords, err := g.Geocode(context.Background(), "12 Main St, Kennewick, WA")
	require.NoError(t, err)
	require.NotNil(t, coords)
	assert.Equal(t, 46.2112, coords.Lat)
	assert.Equal(t, -119.1372, coords.Lng)
}

func TestNominatimGeocodeNoResult(t *testing.T) {
	g := testGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("[]"))
	})

	coords, err := g.Geocode(context.Background(), "Nowhere")
	require.NoError(t, err)
	assert.Nil(t, coords)
}

func TestNominatimGeocodeHTTPError(t *testing.T) {
	g := testGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("busy"))
	})

	coords, err := g.Geocode(context.Background(), "Test Address")
	require.Error(t, err)
	assert.Nil(t, coords)

	var gerr *ErrGeocodingFailed
	require.True(t, errors.As(err, &gerr))
	assert.Contains(t, gerr.Reason, "HTTP 503")
	assert.Equal(t, "Test Address", gerr.Address)
}

func TestNominatimGeocodeInvalidPayload(t *testing.T) {
	g := testGeocoder(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"lat":"north","lon":"-119"}]`))
	})

	_, err := g.Geocode(context.Background(), "Test Address")
	var gerr *ErrGeocodingFailed
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, "invalid latitude", gerr.Reason)
}

func TestNominatimGeocodeContextCancelled(t *testing.T) {
	g := newNominatimGeocoder("http://127.0.0.1:0", "", time.Hour, nil)
	defer g.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Geocode(ctx, "anything")
	assert.ErrorIs(t, err, context.Canceled)
}

type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

type countingGeocoder struct {
	calls  int
	coords *entity.Coordinates
	err    error
}

func (c *countingGeocoder) Geocode(ctx context.Context, address string) (*entity.Coordinates, error) {
	c.calls++
	return c.coords, c.err
}

func TestCachedGeocoder_MissThenHit(t *testing.T) {
	rdb := newFakeRedis()
	next := &countingGeocoder{coords: &entity.Coordinates{Lat: 46.2, Lng: -119.1}}
	cache := NewCachedGeocoder(next, rdb, 24*time.Hour, nil)

	first, err := cache.Geocode(context.Background(), "12 Main St")
	require.NoError(t, err)
	assert.Equal(t, 1, next.calls)

	// whitespace and case do not change the key
	second, err := cache.Geocode(context.Background(), "  12   MAIN st ")
	require.NoError(t, err)
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, *first, *second)
	assert.Equal(t, 24*time.Hour, rdb.ttls[CacheKey("12 Main St")])
}

func TestCachedGeocoder_DoesNotCacheMisses(t *testing.T) {
	rdb := newFakeRedis()
	next := &countingGeocoder{}
	cache := NewCachedGeocoder(next, rdb, time.Hour, nil)

	for i := 0; i < 2; i++ {
		coords, err := cache.Geocode(context.Background(), "Nowhere")
		require.NoError(t, err)
		assert.Nil(t, coords)
	}
	assert.Equal(t, 2, next.calls)
	assert.Empty(t, rdb.values)
}

func TestCachedGeocoder_RedisDownFallsThrough(t *testing.T) {
	rdb := newFakeRedis()
	rdb.getErr = errors.New("connection refused")
	next := &countingGeocoder{coords: &entity.Coordinates{Lat: 1, Lng: 2}}
	cache := NewCachedGeocoder(next, rdb, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))

	coords, err := cache.Geocode(context.Background(), "12 Main St")
	require.NoError(t, err)
	assert.Equal(t, entity.Coordinates{Lat: 1, Lng: 2}, *coords)
	assert.Equal(t, 1, next.calls)
}

func TestCachedGeocoder_PropagatesErrors(t *testing.T) {
	next := &countingGeocoder{err: &ErrGeocodingFailed{Address: "x", Reason: "HTTP 500"}}
	cache := NewCachedGeocoder(next, newFakeRedis(), time.Hour, nil)

	_, err := cache.Geocode(context.Background(), "x")
	var gerr *ErrGeocodingFailed
	assert.True(t, errors.As(err, &gerr))
}
