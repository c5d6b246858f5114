package geocoding

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/UnknownOlympus/atlas-arcgis/internal/models"
)

// Document is the decoded body of a GeocodeServer response.
// find and geocodeAddresses fill Locations; reverseGeocode fills Address and Location.
type Document struct {
	Error     *APIError  `json:"error,omitempty"`
	Locations []Location `json:"locations,omitempty"`
	Address   Attributes `json:"address,omitempty"`
	Location  *Point     `json:"location,omitempty"`
}

// APIError is an error reported by an ArcGIS endpoint in the response body.
type APIError struct {
	Code        int      `json:"code"`
	Message     string   `json:"message"`
	Reason      string   `json:"error,omitempty"`
	Description string   `json:"error_description,omitempty"`
	Details     []string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Description
	}
	if len(e.Details) > 0 {
		msg += " (" + strings.Join(e.Details, "; ") + ")"
	}

	return fmt.Sprintf("esri API error %d: %s", e.Code, msg)
}

// Is matches ErrEsriUnauthorized for invalid or missing token errors.
func (e *APIError) Is(target error) bool {
	return target == ErrEsriUnauthorized && isTokenError(e)
}

// Location is one candidate of a find or geocodeAddresses response.
type Location struct {
	Name       string     `json:"name,omitempty"`
	Address    string     `json:"address,omitempty"`
	Score      float64    `json:"score,omitempty"`
	Location   *Point     `json:"location,omitempty"`
	Extent     *Extent    `json:"extent,omitempty"`
	Feature    *Feature   `json:"feature,omitempty"`
	Attributes Attributes `json:"attributes,omitempty"`
}

// Feature holds the geometry and attributes of a find candidate.
type Feature struct {
	Geometry   Point      `json:"geometry"`
	Attributes Attributes `json:"attributes"`
}

// Extent is a bounding box in the service's spatial reference.
type Extent struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// Point is an x/y pair; x is longitude and y latitude for WGS84 output.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// UnmarshalJSON accepts coordinates as numbers or strings, the service sends
// "NaN" for unmatched batch records.
func (p *Point) UnmarshalJSON(data []byte) error {
	var raw struct {
		X json.RawMessage `json:"x"`
		Y json.RawMessage `json:"y"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var err error
	if p.X, err = parseCoordinate(raw.X); err != nil {
		return fmt.Errorf("invalid x: %w", err)
	}
	if p.Y, err = parseCoordinate(raw.Y); err != nil {
		return fmt.Errorf("invalid y: %w", err)
	}

	return nil
}

func parseCoordinate(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return math.NaN(), nil
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, err
		}
	}

	return strconv.ParseFloat(text, 64)
}

// noPoint is the geometry of results the service sent without one.
var noPoint = Point{X: math.NaN(), Y: math.NaN()}

// Valid reports whether both coordinates are finite numbers.
func (p Point) Valid() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// Attributes are the free-form output fields of a candidate.
type Attributes map[string]any

// String returns a string attribute, or "" if it is missing or of another type.
func (a Attributes) String(key string) string {
	if s, ok := a[key].(string); ok {
		return s
	}

	return ""
}

// Float returns a numeric attribute.
func (a Attributes) Float(key string) (float64, bool) {
	switch v := a[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Result is a single geocoding result in the shape of the query that produced it.
type Result struct {
	reverse    bool
	attributes Attributes
	geometry   Point
	score      float64
	extent     *Extent
	address    string
}

func newSingleResult(query Query, doc *Document) Result {
	if isReverse(query) {
		res := Result{reverse: true, attributes: doc.Address, geometry: noPoint}
		if doc.Location != nil {
			res.geometry = *doc.Location
		}
		return res
	}

	loc := doc.Locations[0]
	res := Result{extent: loc.Extent, score: loc.Score, address: loc.Name, geometry: noPoint}
	if res.address == "" {
		res.address = loc.Address
	}
	if loc.Feature != nil {
		res.attributes = loc.Feature.Attributes
		res.geometry = loc.Feature.Geometry
	}
	if score, ok := res.attributes.Float("Score"); ok {
		res.score = score
	}

	return res
}

func newBatchResult(loc Location) Result {
	res := Result{
		attributes: loc.Attributes,
		score:      loc.Score,
		extent:     loc.Extent,
		address:    loc.Address,
		geometry:   noPoint,
	}
	if loc.Location != nil {
		res.geometry = *loc.Location
	}

	return res
}

// extractResults turns a fetched document into results. A nil document means the fetch failed.
func extractResults(query Query, doc *Document) []Result {
	if doc == nil {
		return nil
	}

	// Reverse responses carry no locations list.
	if !isReverse(query) && len(doc.Locations) == 0 {
		return nil
	}

	if isBatch(query) {
		if doc.Error != nil || len(doc.Locations) == 0 {
			return nil
		}

		results := make([]Result, 0, len(doc.Locations))
		for _, loc := range doc.Locations {
			results = append(results, newBatchResult(loc))
		}
		return results
	}

	if doc.Error != nil {
		return nil
	}

	return []Result{newSingleResult(query, doc)}
}

// Coordinates returns the result's point.
func (r Result) Coordinates() models.Coordinates {
	return models.Coordinates{Latitude: r.geometry.Y, Longitude: r.geometry.X}
}

// Address returns the full matched address.
func (r Result) Address() string {
	if r.reverse {
		return r.attributes.String("Address")
	}
	if addr := r.attributes.String("Match_addr"); addr != "" {
		return addr
	}

	return r.address
}

// City returns the city, or the place name when the candidate itself is a city.
func (r Result) City() string {
	if !r.reverse && r.isCity() {
		return r.PlaceName()
	}

	return r.attributes.String("City")
}

func (r Result) StateCode() string  { return r.attributes.String("Region") }
func (r Result) PostalCode() string { return r.attributes.String("Postal") }

// Country returns the country code of the result.
func (r Result) Country() string {
	if r.reverse {
		return r.attributes.String("CountryCode")
	}

	return r.attributes.String("Country")
}

func (r Result) PlaceName() string {
	if r.reverse {
		return r.attributes.String("Address")
	}

	return r.attributes.String("PlaceName")
}

func (r Result) PlaceType() string {
	if r.reverse {
		return "Address"
	}

	return r.attributes.String("Type")
}

func (r Result) Score() float64 { return r.score }

// Viewport returns the south, west, north and east bounds of the result, if known.
func (r Result) Viewport() ([4]float64, bool) {
	if r.extent != nil {
		return [4]float64{r.extent.YMin, r.extent.XMin, r.extent.YMax, r.extent.XMax}, true
	}

	north, okN := r.attributes.Float("Ymax")
	west, okW := r.attributes.Float("Xmin")
	south, okS := r.attributes.Float("Ymin")
	east, okE := r.attributes.Float("Xmax")
	if okN && okW && okS && okE {
		return [4]float64{south, west, north, east}, true
	}

	return [4]float64{}, false
}

// ResultID returns the OBJECTID a batch result was submitted with.
func (r Result) ResultID() (int, bool) {
	id, ok := r.attributes.Float("ResultID")
	if !ok {
		return 0, false
	}

	return int(id), true
}

// Matched reports whether the result points at a real location.
func (r Result) Matched() bool {
	if r.attributes.String("Status") == "U" {
		return false
	}

	return r.geometry.Valid()
}

// Attributes returns the raw output fields.
func (r Result) Attributes() Attributes { return r.attributes }

func (r Result) isCity() bool {
	switch r.attributes.String("Type") {
	case "City", "Locality":
		return true
	default:
		return false
	}
}

// MarshalJSON renders the normalized fields, used by the lookup CLI.
func (r Result) MarshalJSON() ([]byte, error) {
	var coords *[2]float64
	if r.geometry.Valid() {
		coords = &[2]float64{r.geometry.Y, r.geometry.X}
	}

	return json.Marshal(struct {
		Address     string      `json:"address"`
		City        string      `json:"city,omitempty"`
		StateCode   string      `json:"state_code,omitempty"`
		PostalCode  string      `json:"postal_code,omitempty"`
		Country     string      `json:"country,omitempty"`
		PlaceType   string      `json:"place_type,omitempty"`
		Score       float64     `json:"score"`
		Coordinates *[2]float64 `json:"coordinates,omitempty"`
	}{
		Address:     r.Address(),
		City:        r.City(),
		StateCode:   r.StateCode(),
		PostalCode:  r.PostalCode(),
		Country:     r.Country(),
		PlaceType:   r.PlaceType(),
		Score:       r.Score(),
		Coordinates: coords,
	})
}
