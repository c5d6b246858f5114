package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the configuration settings for the geocoding service.
// It includes the environment, server port, provider credentials, number of workers,
// interval for processing, caching and database configuration.
//
// Fields:
// - Env: The current environment (e.g., local, development, production).
// - Port: The port for the geocoder monitoring server.
// - ProviderType: The type of geocoding provider to use (esri).
// - Workers: The number of concurrent workers for processing batches.
// - Interval: The duration between processing intervals.
// - BatchSize: The number of addresses sent in one batch request.
// - MinScore: Matches scoring below this value are treated as failures.
// - RateLimit: Provider requests per second.
// - Esri: ArcGIS credentials and request options.
// - Cache: Response cache settings.
// - Database: Configuration settings for the PostgreSQL database.
type Config struct {
	Env          string        // Env is the current environment: local, development, production.
	Port         int           // Port is the geocoder monitoring server port.
	ProviderType string        // ProviderType specifies which geocoding provider to use
	Workers      int           // The number of concurrent workers for processing requests.
	Interval     time.Duration // The duration between processing intervals.
	BatchSize    int
	MinScore     float64
	RateLimit    int
	AddrPrefix   string // Address prefix for more accurate geocoding
	Esri         EsriConfig
	Cache        CacheConfig
	Database     PostgresConfig // Database holds the postgres database configuration
}

// EsriConfig holds the ArcGIS application credentials and request options.
type EsriConfig struct {
	ClientID      string
	ClientSecret  string
	Token         string // Token is a preset access token.
	ForStorage    bool
	SourceCountry string
	UseHTTPS      bool
}

// CacheConfig configures the response cache. An empty RedisURL keeps the cache in memory.
type CacheConfig struct {
	TTL      time.Duration
	RedisURL string
}

// PostgresConfig struct holds the configuration details for connecting to a PostgreSQL database.
type PostgresConfig struct {
	Host     string // Host is the database server address.
	Port     string // Port is the database server port.
	User     string // User is the database user.
	Password string // Password is the database user's password.
	Name     string // Name is the name of the database.
}

// MustLoad loads the configuration from the environment (and .env), optionally
// layered over a YAML file named by ATLAS_CONFIG_FILE. It panics on invalid values.
func MustLoad() *Config {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	if path := v.GetString("config_file"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			panic(fmt.Sprintf("failed to read configuration file %s", path))
		}
	}

	interval, err := time.ParseDuration(v.GetString("geocoder.interval"))
	if err != nil {
		panic("failed to parse interval from configuration")
	}

	healthPort, err := parseInt(v, "geocoder.port")
	if err != nil {
		panic("failed to parse port for monitoring server from configuration")
	}

	workers, err := parseInt(v, "geocoder.workers")
	if err != nil || workers < 1 {
		panic("failed to parse workers from configuration, must be an integer types")
	}

	batchSize, err := parseInt(v, "geocoder.batch_size")
	if err != nil || batchSize < 1 {
		panic("failed to parse batch size from configuration, must be a positive integer")
	}

	minScore, err := parseFloat(v, "geocoder.min_score")
	if err != nil {
		panic("failed to parse minimum score from configuration")
	}

	rateLimit, err := parseInt(v, "provider.rate_limit")
	if err != nil {
		panic("failed to parse rate limit from configuration")
	}

	cacheTTL, err := time.ParseDuration(v.GetString("cache.ttl"))
	if err != nil {
		panic("failed to parse cache ttl from configuration")
	}

	return &Config{
		Env:          v.GetString("env"),
		Port:         healthPort,
		ProviderType: v.GetString("provider.type"),
		Workers:      workers,
		Interval:     interval,
		BatchSize:    batchSize,
		MinScore:     minScore,
		RateLimit:    rateLimit,
		AddrPrefix:   v.GetString("addr_prefix"),
		Esri: EsriConfig{
			ClientID:      v.GetString("esri.client_id"),
			ClientSecret:  v.GetString("esri.client_secret"),
			Token:         v.GetString("esri.token"),
			ForStorage:    v.GetBool("esri.for_storage"),
			SourceCountry: v.GetString("esri.source_country"),
			UseHTTPS:      v.GetBool("esri.use_https"),
		},
		Cache: CacheConfig{
			TTL:      cacheTTL,
			RedisURL: v.GetString("cache.redis_url"),
		},
		Database: PostgresConfig{
			Host:     v.GetString("postgres.host"),
			Port:     v.GetString("postgres.port"),
			User:     v.GetString("postgres.user"),
			Password: v.GetString("postgres.password"),
			Name:     v.GetString("postgres.db_name"),
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "production")
	v.SetDefault("geocoder.port", "8080")
	v.SetDefault("geocoder.workers", "10")
	v.SetDefault("geocoder.interval", "10m")
	v.SetDefault("geocoder.batch_size", "100")
	v.SetDefault("geocoder.min_score", "80")
	v.SetDefault("provider.type", "esri")
	v.SetDefault("provider.rate_limit", "50")
	v.SetDefault("esri.use_https", true)
	v.SetDefault("cache.ttl", "24h")
	v.SetDefault("postgres.port", "5432")
}

func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("config_file", "ATLAS_CONFIG_FILE")
	_ = v.BindEnv("env", "ATLAS_ENV")
	_ = v.BindEnv("geocoder.port", "ATLAS_HEALTH_PORT")
	_ = v.BindEnv("geocoder.workers", "ATLAS_WORKERS")
	_ = v.BindEnv("geocoder.interval", "ATLAS_INTERVAL")
	_ = v.BindEnv("geocoder.batch_size", "ATLAS_BATCH_SIZE")
	_ = v.BindEnv("geocoder.min_score", "ATLAS_MIN_SCORE")
	_ = v.BindEnv("addr_prefix", "ATLAS_ADDRESS_PREFIX")
	_ = v.BindEnv("provider.type", "ATLAS_PROVIDER_TYPE")
	_ = v.BindEnv("provider.rate_limit", "ATLAS_RATE_LIMIT")

	_ = v.BindEnv("esri.client_id", "ATLAS_ESRI_CLIENT_ID")
	_ = v.BindEnv("esri.client_secret", "ATLAS_ESRI_CLIENT_SECRET")
	_ = v.BindEnv("esri.token", "ATLAS_ESRI_TOKEN")
	_ = v.BindEnv("esri.for_storage", "ATLAS_ESRI_FOR_STORAGE")
	_ = v.BindEnv("esri.source_country", "ATLAS_ESRI_SOURCE_COUNTRY")
	_ = v.BindEnv("esri.use_https", "ATLAS_ESRI_USE_HTTPS")

	_ = v.BindEnv("cache.ttl", "ATLAS_CACHE_TTL")
	_ = v.BindEnv("cache.redis_url", "REDIS_URL")

	_ = v.BindEnv("postgres.host", "DB_HOST")
	_ = v.BindEnv("postgres.port", "DB_PORT")
	_ = v.BindEnv("postgres.user", "DB_USERNAME")
	_ = v.BindEnv("postgres.password", "DB_PASSWORD")
	_ = v.BindEnv("postgres.db_name", "DB_NAME")
}

func parseInt(v *viper.Viper, key string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(v.GetString(key)))
}

func parseFloat(v *viper.Viper, key string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(v.GetString(key)), 64)
}
