package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"golang.org/x/sync/singleflight"
)

const trackCacheTTL = 5 * time.Minute

// credentialCache holds the short-lived catalog access token. It is an
// explicit object injected into the service, refreshed lazily on expiry;
// concurrent expiry triggers exactly one upstream refresh.
type credentialCache struct {
	mu     sync.Mutex
	value  string
	expiry time.Time
	group  singleflight.Group
}

func (c *credentialCache) get() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value == "" || time.Now().After(c.expiry) {
		return "", false
	}
	return c.value, true
}

func (c *credentialCache) set(value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = value
	// Refresh slightly early so in-flight requests never carry an expired token.
	c.expiry = time.Now().Add(ttl - 30*time.Second)
}

// CatalogService proxies the third-party music catalog: search, track
// lookup and recommendations. It holds no state beyond the cached access
// credential and a Redis-side track cache.
type CatalogService struct {
	client       *http.Client
	redis        *redis.Client
	creds        *credentialCache
	logger       zerolog.Logger
	baseURL      string
	authURL      string
	clientID     string
	clientSecret string
}

func NewCatalogService(redisClient *redis.Client, logger zerolog.Logger) *CatalogService {
	viper.SetDefault("catalog.base_url", "https://api.music-catalog.example.com/v1")
	viper.SetDefault("catalog.auth_url", "https://accounts.music-catalog.example.com/api/token")

	return &CatalogService{
		client:       &http.Client{Timeout: 10 * time.Second},
		redis:        redisClient,
		creds:        &credentialCache{},
		logger:       logger,
		baseURL:      viper.GetString("catalog.base_url"),
		authURL:      viper.GetString("catalog.auth_url"),
		clientID:     viper.GetString("catalog.client_id"),
		clientSecret: viper.GetString("catalog.client_secret"),
	}
}

// Search proxies a catalog search
// @Summary Search the music catalog
// @Tags catalog
// @Produce json
// @Param q query string true "Search query"
// @Success 200 {object} object{success=bool,data=object}
// @Failure 400 {object} ErrorResponse
// @Router /catalog/search [get]
func (cs *CatalogService) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		SendErrorResponse(w, "q is required", http.StatusBadRequest, nil)
		return
	}

	endpoint := fmt.Sprintf("%s/search?type=track&limit=20&q=%s", cs.baseURL, url.QueryEscape(query))
	data, err := cs.proxyGet(r.Context(), endpoint)
	if err != nil {
		cs.logger.Error().Err(err).Str("query", query).Msg("Catalog search failed")
		SendErrorResponse(w, "Catalog unavailable", http.StatusBadGateway, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

// GetTrack proxies a track lookup, cached in Redis for a short TTL
// @Summary Look up a track
// @Tags catalog
// @Produce json
// @Param trackId path string true "Track ID"
// @Success 200 {object} object{success=bool,data=object}
// @Failure 404 {object} ErrorResponse
// @Router /catalog/tracks/{trackId} [get]
func (cs *CatalogService) GetTrack(w http.ResponseWriter, r *http.Request) {
	trackID := chi.URLParam(r, "trackId")
	if trackID == "" {
		SendErrorResponse(w, "trackId is required", http.StatusBadRequest, nil)
		return
	}

	cacheKey := "catalog:track:" + trackID
	if cs.redis != nil {
		if cached, err := cs.redis.Get(r.Context(), cacheKey).Bytes(); err == nil {
			SendJSONResponse(w, http.StatusOK, map[string]any{"success": true, "data": json.RawMessage(cached)})
			return
		}
	}

	endpoint := fmt.Sprintf("%s/tracks/%s", cs.baseURL, url.PathEscape(trackID))
	data, err := cs.proxyGet(r.Context(), endpoint)
	if err != nil {
		if err == errUpstreamNotFound {
			SendErrorResponse(w, "Track not found", http.StatusNotFound, nil)
			return
		}
		cs.logger.Error().Err(err).Str("track_id", trackID).Msg("Track lookup failed")
		SendErrorResponse(w, "Catalog unavailable", http.StatusBadGateway, nil)
		return
	}

	if cs.redis != nil {
		if err := cs.redis.Set(r.Context(), cacheKey, []byte(data), trackCacheTTL).Err(); err != nil {
			cs.logger.Warn().Err(err).Str("track_id", trackID).Msg("Failed to cache track")
		}
	}

	SendJSONResponse(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

// Recommendations proxies catalog recommendations
// @Summary Get track recommendations
// @Tags catalog
// @Produce json
// @Param seed query string true "Seed track IDs, comma separated"
// @Success 200 {object} object{success=bool,data=object}
// @Failure 400 {object} ErrorResponse
// @Router /catalog/recommendations [get]
func (cs *CatalogService) Recommendations(w http.ResponseWriter, r *http.Request) {
	seed := strings.TrimSpace(r.URL.Query().Get("seed"))
	if seed == "" {
		SendErrorResponse(w, "seed is required", http.StatusBadRequest, nil)
		return
	}

	endpoint := fmt.Sprintf("%s/recommendations?seed_tracks=%s&limit=20", cs.baseURL, url.QueryEscape(seed))
	data, err := cs.proxyGet(r.Context(), endpoint)
	if err != nil {
		cs.logger.Error().Err(err).Str("seed", seed).Msg("Recommendations failed")
		SendErrorResponse(w, "Catalog unavailable", http.StatusBadGateway, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, map[string]any{"success": true, "data": data})
}

var errUpstreamNotFound = fmt.Errorf("upstream returned 404")

func (cs *CatalogService) proxyGet(ctx context.Context, endpoint string) (json.RawMessage, error) {
	token, err := cs.accessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain catalog credential: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := cs.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errUpstreamNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// accessToken returns the cached client-credentials token, refreshing it
// through a single flight when expired.
func (cs *CatalogService) accessToken(ctx context.Context) (string, error) {
	if token, ok := cs.creds.get(); ok {
		return token, nil
	}

	value, err, _ := cs.creds.group.Do("catalog-token", func() (any, error) {
		// Re-check under the flight: a concurrent caller may have refreshed.
		if token, ok := cs.creds.get(); ok {
			return token, nil
		}
		// The flight is shared by every waiter, so the refresh must outlive
		// the first caller's request; the client timeout still bounds it.
		return cs.refreshToken(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

func (cs *CatalogService) refreshToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", cs.clientID)
	form.Set("client_secret", cs.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cs.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := cs.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("credential endpoint returned status %d", resp.StatusCode)
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("credential endpoint returned empty token")
	}

	cs.creds.set(result.AccessToken, time.Duration(result.ExpiresIn)*time.Second)
	cs.logger.Info().Int("expires_in", result.ExpiresIn).Msg("Catalog credential refreshed")
	return result.AccessToken, nil
}
