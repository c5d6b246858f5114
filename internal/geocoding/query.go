package geocoding

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/UnknownOlympus/atlas-arcgis/internal/models"
)

// Query is a lookup request. It is one of ForwardQuery, ReverseQuery or BatchQuery.
type Query interface {
	// params returns the caller supplied request parameters, merged last.
	params() map[string]string
}

// ForwardQuery resolves address text to locations.
type ForwardQuery struct {
	Text   string
	Params map[string]string
}

// ReverseQuery resolves a point to an address.
type ReverseQuery struct {
	Coordinates models.Coordinates
	Params      map[string]string
}

// BatchQuery geocodes several addresses in one request.
type BatchQuery struct {
	Items  []BatchItem
	Params map[string]string
}

// BatchItem is a single address of a batch. ID is optional; without it the
// item's position in the batch is used.
type BatchItem struct {
	ID    *int
	Input string
}

func (q ForwardQuery) params() map[string]string { return q.Params }
func (q ReverseQuery) params() map[string]string { return q.Params }
func (q BatchQuery) params() map[string]string   { return q.Params }

// SanitizedText returns the query text without surrounding whitespace.
func (q ForwardQuery) SanitizedText() string {
	return strings.TrimSpace(q.Text)
}

var coordinatesPattern = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?)\s*,\s*(-?\d+(?:\.\d+)?)\s*$`)

// ParseQuery builds a ReverseQuery from "lat,lon" text and a ForwardQuery from anything else.
func ParseQuery(text string) Query {
	parts := coordinatesPattern.FindStringSubmatch(text)
	if parts == nil {
		return ForwardQuery{Text: text}
	}

	lat, errLat := strconv.ParseFloat(parts[1], 64)
	lon, errLon := strconv.ParseFloat(parts[2], 64)
	if errLat != nil || errLon != nil {
		return ForwardQuery{Text: text}
	}

	return ReverseQuery{Coordinates: models.Coordinates{Latitude: lat, Longitude: lon}}
}

// IsBlank reports whether the query has nothing to look up.
func IsBlank(query Query) bool {
	switch q := query.(type) {
	case ForwardQuery:
		return q.SanitizedText() == ""
	case BatchQuery:
		return len(q.Items) == 0
	case ReverseQuery:
		return false
	default:
		return true
	}
}

// isReverse reports whether the query is a reverse geocoding request.
func isReverse(query Query) bool {
	_, ok := query.(ReverseQuery)
	return ok
}

// isBatch reports whether the query is a batch request.
func isBatch(query Query) bool {
	_, ok := query.(BatchQuery)
	return ok
}
