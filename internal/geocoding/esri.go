package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/UnknownOlympus/atlas-arcgis/internal/metrics"
	"github.com/UnknownOlympus/atlas-arcgis/internal/models"
	"golang.org/x/time/rate"
)

// EsriHost serves the ArcGIS World geocoding service.
const EsriHost = "geocode.arcgis.com"

const esriServicePath = "/arcgis/rest/services/World/GeocodeServer/"

// esriProviderKey identifies the provider in shared token stores.
const esriProviderKey = "esri"

// GeocodeServer actions.
const (
	actionFind             = "find"
	actionReverseGeocode   = "reverseGeocode"
	actionGeocodeAddresses = "geocodeAddresses"
)

// Esri error codes meaning the token was rejected.
const (
	esriInvalidToken  = 498
	esriTokenRequired = 499
)

// Common errors for the Esri provider.
var (
	ErrEsriEmptyResponse   = errors.New("esri API returned empty response")
	ErrEsriEmptyAddress    = errors.New("esri provider got empty address")
	ErrEsriInvalidResponse = errors.New("esri API returned invalid response")
	ErrEsriUnauthorized    = errors.New("esri API unauthorized (invalid token or credentials)")
)

// EsriConfig holds the adapter's options.
type EsriConfig struct {
	APIKey        APIKey        // Client credentials used to issue tokens.
	ForStorage    bool          // Request results that may be stored.
	SourceCountry string        // Restrict candidates to a country, ISO 3166 code.
	UseHTTPS      bool          // Use https for service requests.
	MaxRetries    int           // Retries of transient transport failures.
	RetryInterval time.Duration // Initial backoff between retries.
	Limiter       *rate.Limiter // Request rate limiter, unlimited when nil.
	Cache         Cache         // Response cache, disabled when nil.
}

// EsriLookup implements geocoding using the ArcGIS World GeocodeServer.
type EsriLookup struct {
	client  HTTPClient
	tokens  *TokenCache
	cfg     EsriConfig
	limiter *rate.Limiter
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewEsriLookup creates the ArcGIS lookup. tokens may be nil when no token is ever needed.
func NewEsriLookup(
	cfg EsriConfig,
	client HTTPClient,
	tokens *TokenCache,
	metrics *metrics.Metrics,
	log *slog.Logger,
) *EsriLookup {
	const defaultRetryInterval = 200 * time.Millisecond

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}

	return &EsriLookup{
		client:  client,
		tokens:  tokens,
		cfg:     cfg,
		limiter: limiter,
		metrics: metrics,
		log:     log,
	}
}

// Name returns the provider's display name.
func (el *EsriLookup) Name() string {
	return "Esri"
}

// QueryURL returns the full request URL for the query.
func (el *EsriLookup) QueryURL(ctx context.Context, query Query) string {
	return el.baseQueryURL(query) + encodeParams(el.Params(ctx, query))
}

// CacheKey identifies the query's response independently of the token in use.
func (el *EsriLookup) CacheKey(query Query) string {
	params := el.buildParams(query, "")
	params.Del("token")
	params.Del("api_key")

	return el.baseQueryURL(query) + encodeParams(params)
}

// Params returns the request parameters, resolving the current token.
func (el *EsriLookup) Params(ctx context.Context, query Query) url.Values {
	return el.buildParams(query, el.token(ctx))
}

func (el *EsriLookup) protocol() string {
	if el.cfg.UseHTTPS {
		return "https"
	}

	return "http"
}

func (el *EsriLookup) baseQueryURL(query Query) string {
	return el.protocol() + "://" + EsriHost + esriServicePath + action(query) + "?"
}

func action(query Query) string {
	switch query.(type) {
	case BatchQuery:
		return actionGeocodeAddresses
	case ReverseQuery:
		return actionReverseGeocode
	default:
		return actionFind
	}
}

type batchAttributes struct {
	ObjectID   int    `json:"OBJECTID"`
	SingleLine string `json:"SingleLine"`
}

type batchRecord struct {
	Attributes batchAttributes `json:"attributes"`
}

type batchAddresses struct {
	Records []batchRecord `json:"records"`
}

func (el *EsriLookup) buildParams(query Query, token string) url.Values {
	params := url.Values{}
	params.Set("f", "pjson")

	switch q := query.(type) {
	case BatchQuery:
		addresses := batchAddresses{Records: make([]batchRecord, 0, len(q.Items))}
		for idx, item := range q.Items {
			objectID := idx
			if item.ID != nil {
				objectID = *item.ID
			}
			addresses.Records = append(addresses.Records, batchRecord{
				Attributes: batchAttributes{ObjectID: objectID, SingleLine: item.Input},
			})
		}
		// Cannot fail for plain ints and strings.
		encoded, _ := json.Marshal(addresses)
		params.Set("addresses", string(encoded))
	case ReverseQuery:
		params.Set("outFields", "*")
		params.Set("location", q.Coordinates.LonLat())
	case ForwardQuery:
		params.Set("outFields", "*")
		params.Set("text", q.SanitizedText())
	}

	params.Set("token", token)
	if el.cfg.ForStorage {
		params.Set("forStorage", "true")
	}
	if el.cfg.SourceCountry != "" {
		params.Set("sourceCountry", el.cfg.SourceCountry)
	}

	for key, value := range query.params() {
		params.Set(key, value)
	}

	return params
}

// encodeParams renders a sorted query string, leaving out empty values.
func encodeParams(params url.Values) string {
	filtered := url.Values{}
	for key, values := range params {
		if len(values) > 0 && values[0] != "" {
			filtered[key] = values
		}
	}

	return filtered.Encode()
}

func (el *EsriLookup) token(ctx context.Context) string {
	if el.tokens == nil {
		return ""
	}

	token, err := el.tokens.GetOrRefresh(ctx, el.cfg.APIKey)
	if err != nil {
		el.log.WarnContext(ctx, "Proceeding without Esri token", "error", err)
		return ""
	}

	return token.String()
}

// Search looks the query up and returns its results. Provider reported errors
// are returned as *APIError.
func (el *EsriLookup) Search(ctx context.Context, query Query) ([]Result, error) {
	if IsBlank(query) {
		el.log.DebugContext(ctx, "Skipping blank Esri query", "action", action(query))
		return nil, nil
	}

	doc, err := el.fetchDocument(ctx, query)
	if err != nil {
		return nil, err
	}

	// A rejected token is dropped and the request repeated once with a fresh one.
	if doc.Error != nil && isTokenError(doc.Error) && el.tokens != nil && !el.cfg.APIKey.IsZero() {
		el.log.InfoContext(ctx, "Esri rejected token, refreshing", "code", doc.Error.Code)
		el.tokens.Invalidate(ctx)

		if doc, err = el.fetchDocument(ctx, query); err != nil {
			return nil, err
		}
	}

	if doc.Error != nil {
		return nil, doc.Error
	}

	return extractResults(query, doc), nil
}

// Results is Search with errors logged and treated as no results.
func (el *EsriLookup) Results(ctx context.Context, query Query) []Result {
	results, err := el.Search(ctx, query)
	if err != nil {
		el.log.WarnContext(ctx, "Esri lookup failed", "action", action(query), "error", err)
		return nil
	}

	return results
}

func isTokenError(apiErr *APIError) bool {
	return apiErr.Code == esriInvalidToken || apiErr.Code == esriTokenRequired
}

func (el *EsriLookup) fetchDocument(ctx context.Context, query Query) (*Document, error) {
	key := el.CacheKey(query)

	if el.cfg.Cache != nil {
		cached, ok, err := el.cfg.Cache.Get(ctx, key)
		switch {
		case err != nil:
			el.log.WarnContext(ctx, "Failed to read response cache", "error", err)
		case ok:
			var doc Document
			if err = json.Unmarshal(cached, &doc); err == nil {
				el.metrics.CacheLookups.WithLabelValues("hit").Inc()
				return &doc, nil
			}
			el.log.WarnContext(ctx, "Discarding undecodable cached response", "error", err)
		}
		el.metrics.CacheLookups.WithLabelValues("miss").Inc()
	}

	reqURL := el.QueryURL(ctx, query)
	el.log.DebugContext(ctx, "Esri request", "action", action(query), "url", redactToken(reqURL))

	body, err := el.fetchRaw(ctx, action(query), reqURL)
	if err != nil {
		return nil, err
	}

	el.log.DebugContext(ctx, "Esri raw response", "body", string(body))

	var doc Document
	if err = json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEsriInvalidResponse, err)
	}

	if el.cfg.Cache != nil && doc.Error == nil {
		if err = el.cfg.Cache.Set(ctx, key, body); err != nil {
			el.log.WarnContext(ctx, "Failed to write response cache", "error", err)
		}
	}

	return &doc, nil
}

// redactToken hides the token value in URLs written to logs.
func redactToken(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	query := parsed.Query()
	if query.Get("token") == "" {
		return rawURL
	}
	query.Set("token", "REDACTED")
	parsed.RawQuery = query.Encode()

	return parsed.String()
}

// Geocode converts address into geographic coordinates using the find action.
func (el *EsriLookup) Geocode(ctx context.Context, address string) (*models.Coordinates, error) {
	el.log.DebugContext(ctx, "Geocoding using Esri", "address", address)

	if strings.TrimSpace(address) == "" {
		return nil, ErrEsriEmptyAddress
	}

	results, err := el.Search(ctx, ForwardQuery{Text: address})
	if err != nil {
		return nil, fmt.Errorf("failed to geocode address: %w", err)
	}

	if len(results) == 0 || !results[0].Matched() {
		return nil, ErrEsriEmptyResponse
	}

	coords := results[0].Coordinates()
	el.log.InfoContext(ctx, "Esri found result", "address", address, "lat", coords.Latitude, "lon", coords.Longitude)

	return &coords, nil
}

// Reverse resolves a point to the nearest address.
func (el *EsriLookup) Reverse(ctx context.Context, coords models.Coordinates) (*Result, error) {
	results, err := el.Search(ctx, ReverseQuery{Coordinates: coords})
	if err != nil {
		return nil, fmt.Errorf("failed to reverse geocode: %w", err)
	}

	if len(results) == 0 {
		return nil, ErrEsriEmptyResponse
	}

	return &results[0], nil
}

// GeocodeBatch submits all tasks in one geocodeAddresses request, using task
// IDs as OBJECTIDs. Tasks the service could not match are left out of the result.
func (el *EsriLookup) GeocodeBatch(ctx context.Context, tasks []models.Task) ([]models.Match, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	items := make([]BatchItem, 0, len(tasks))
	for _, task := range tasks {
		id := task.ID
		items = append(items, BatchItem{ID: &id, Input: task.Address})
	}

	results, err := el.Search(ctx, BatchQuery{Items: items})
	if err != nil {
		return nil, fmt.Errorf("failed to geocode batch: %w", err)
	}

	matches := make([]models.Match, 0, len(results))
	for _, res := range results {
		taskID, ok := res.ResultID()
		if !ok || !res.Matched() {
			continue
		}
		matches = append(matches, models.Match{
			TaskID:      taskID,
			Coordinates: res.Coordinates(),
			Address:     res.Address(),
			Score:       res.Score(),
		})
	}

	el.log.DebugContext(ctx, "Esri batch geocoded", "submitted", len(tasks), "matched", len(matches))

	return matches, nil
}

// defaultHTTPClient is used when no client is injected.
func defaultHTTPClient() *http.Client {
	const timeout = 10

	return &http.Client{Timeout: timeout * time.Second}
}
