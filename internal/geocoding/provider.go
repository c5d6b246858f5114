package geocoding

import (
	"context"

	"github.com/UnknownOlympus/atlas-arcgis/internal/models"
)

// Provider is an interface that defines the geocoding operations the service relies on.
// Geocode resolves a single address to coordinates; GeocodeBatch resolves many
// tasks at once and returns matches only for the tasks the provider could place.
type Provider interface {
	Geocode(ctx context.Context, address string) (*models.Coordinates, error)
	GeocodeBatch(ctx context.Context, tasks []models.Task) ([]models.Match, error)
}

// Lookup is a provider adapter that maps queries to a service's endpoint and
// normalizes its responses. Results never fails: errors degrade to no results.
type Lookup interface {
	Name() string
	QueryURL(ctx context.Context, query Query) string
	CacheKey(query Query) string
	Results(ctx context.Context, query Query) []Result
}
