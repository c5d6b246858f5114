package geocoding

import (
	"fmt"
	"log/slog"

	"github.com/UnknownOlympus/atlas-arcgis/internal/metrics"
	"golang.org/x/time/rate"
)

// ProviderType represents the type of geocoding provider.
type ProviderType string

const (
	// ProviderTypeEsri represents the ArcGIS World geocoding service.
	ProviderTypeEsri ProviderType = "esri"
)

// ProviderConfig holds configuration for creating a geocoding provider.
type ProviderConfig struct {
	Type          ProviderType     // Type of provider to create
	ClientID      string           // ArcGIS application client id
	ClientSecret  string           // ArcGIS application client secret
	Token         string           // Preset access token, used until it is rejected
	ForStorage    bool             // Request results that may be stored
	SourceCountry string           // Restrict results to a country
	UseHTTPS      bool             // Use https for service requests
	RateLimit     int              // Rate limit for requests per second, unlimited when zero
	MaxRetries    int              // Retries of transient transport failures
	Cache         Cache            // Response cache, optional
	TokenStore    TokenStore       // Shared token store, in-memory when nil
	Client        HTTPClient       // HTTP client, a 10s timeout client when nil
	Metrics       *metrics.Metrics // Metrics for the provider
	Logger        *slog.Logger     // Logger for the provider
}

// NewProvider creates a geocoding provider based on the provided configuration.
// It applies the Factory pattern to decouple provider instantiation from business logic.
//
// Supported provider types:
// - "esri": ArcGIS World GeocodeServer (batch geocoding needs client credentials or a token)
//
// Returns an error if the provider type is unsupported or if provider creation fails.
func NewProvider(config ProviderConfig) (Provider, error) {
	switch config.Type {
	case ProviderTypeEsri:
		provider, err := NewEsriProvider(config)
		if err != nil {
			return nil, err
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", config.Type)
	}
}

// NewEsriProvider creates the ArcGIS lookup with its token cache.
func NewEsriProvider(config ProviderConfig) (*EsriLookup, error) {
	if (config.ClientID == "") != (config.ClientSecret == "") {
		return nil, fmt.Errorf("both client id and client secret are required for Esri provider")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := config.Client
	if client == nil {
		client = defaultHTTPClient()
	}

	store := config.TokenStore
	if store == nil {
		store = NewMemoryTokenStore()
	}

	key := APIKey{ClientID: config.ClientID, ClientSecret: config.ClientSecret}
	if key.IsZero() && config.Token == "" {
		logger.Warn("No Esri credentials configured, requests are sent without a token")
	}

	var preset *Token
	if config.Token != "" {
		preset = &Token{Value: config.Token}
	}

	tokens := NewTokenCache(
		esriProviderKey,
		store,
		NewEsriTokenIssuer(client, DefaultTokenExpiration, logger),
		preset,
		config.Metrics,
		logger,
	)

	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.RateLimit)
	}

	return NewEsriLookup(EsriConfig{
		APIKey:        key,
		ForStorage:    config.ForStorage,
		SourceCountry: config.SourceCountry,
		UseHTTPS:      config.UseHTTPS,
		MaxRetries:    config.MaxRetries,
		Limiter:       limiter,
		Cache:         config.Cache,
	}, client, tokens, config.Metrics, logger), nil
}
