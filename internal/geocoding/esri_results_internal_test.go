package geocoding

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/UnknownOlympus/atlas-arcgis/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeDocument(t *testing.T, body string) *Document {
	t.Helper()

	var doc Document
	require.NoError(t, json.Unmarshal([]byte(body), &doc))

	return &doc
}

func TestExtractResults(t *testing.T) {
	forward := ForwardQuery{Text: "X"}
	reverse := ReverseQuery{Coordinates: models.Coordinates{Latitude: 1, Longitude: 2}}
	batch := BatchQuery{Items: []BatchItem{{Input: "X"}, {Input: "Y"}}}

	t.Run("absent document", func(t *testing.T) {
		assert.Empty(t, extractResults(forward, nil))
		assert.Empty(t, extractResults(reverse, nil))
		assert.Empty(t, extractResults(batch, nil))
	})

	t.Run("single forward query returns the whole document once", func(t *testing.T) {
		doc := decodeDocument(t, `{"error": null, "locations": [{"address": "X"}, {"address": "Z"}]}`)

		results := extractResults(forward, doc)

		require.Len(t, results, 1)
		assert.Equal(t, "X", results[0].Address())
	})

	t.Run("provider error yields nothing for every query type", func(t *testing.T) {
		doc := decodeDocument(t, `{"error": {"code": 400}}`)

		assert.Empty(t, extractResults(forward, doc))
		assert.Empty(t, extractResults(reverse, doc))
		assert.Empty(t, extractResults(batch, doc))
	})

	t.Run("provider error with locations", func(t *testing.T) {
		doc := decodeDocument(t, `{"error": {"code": 500}, "locations": [{"address": "X"}]}`)

		assert.Empty(t, extractResults(forward, doc))
		assert.Empty(t, extractResults(batch, doc))
	})

	t.Run("non-reverse query without locations", func(t *testing.T) {
		doc := decodeDocument(t, `{"error": null}`)

		assert.Empty(t, extractResults(forward, doc))
		assert.Empty(t, extractResults(batch, doc))
	})

	t.Run("reverse query needs no locations", func(t *testing.T) {
		doc := decodeDocument(t, `{"address": {"Address": "X"}, "location": {"x": 2, "y": 1}}`)

		results := extractResults(reverse, doc)

		require.Len(t, results, 1)
		assert.Equal(t, "X", results[0].Address())
		assert.Equal(t, models.Coordinates{Latitude: 1, Longitude: 2}, results[0].Coordinates())
	})

	t.Run("batch query returns every location", func(t *testing.T) {
		doc := decodeDocument(t, `{"locations": [
			{"address": "X", "attributes": {"ResultID": 0}},
			{"address": "Y", "attributes": {"ResultID": 1}}
		]}`)

		results := extractResults(batch, doc)

		require.Len(t, results, 2)
		id, ok := results[1].ResultID()
		require.True(t, ok)
		assert.Equal(t, 1, id)
		assert.Equal(t, "Y", results[1].Address())
	})
}

func TestPoint_UnmarshalJSON(t *testing.T) {
	t.Run("numbers", func(t *testing.T) {
		var p Point
		require.NoError(t, json.Unmarshal([]byte(`{"x": 30.5, "y": 50.4}`), &p))

		assert.InEpsilon(t, 30.5, p.X, 0.0001)
		assert.InEpsilon(t, 50.4, p.Y, 0.0001)
		assert.True(t, p.Valid())
	})

	t.Run("NaN strings", func(t *testing.T) {
		var p Point
		require.NoError(t, json.Unmarshal([]byte(`{"x": "NaN", "y": "NaN"}`), &p))

		assert.True(t, math.IsNaN(p.X))
		assert.False(t, p.Valid())
	})

	t.Run("missing coordinates", func(t *testing.T) {
		var p Point
		require.NoError(t, json.Unmarshal([]byte(`{}`), &p))

		assert.False(t, p.Valid())
	})

	t.Run("results without geometry have no coordinates", func(t *testing.T) {
		results := extractResults(ForwardQuery{Text: "X"}, &Document{Locations: []Location{{Address: "X"}}})

		require.Len(t, results, 1)
		assert.False(t, results[0].Matched())
	})

	t.Run("garbage", func(t *testing.T) {
		var p Point
		require.Error(t, json.Unmarshal([]byte(`{"x": "east"}`), &p))
	})
}

func TestResult_Matched(t *testing.T) {
	unmatched := newBatchResult(Location{
		Location:   &Point{X: 1, Y: 2},
		Attributes: Attributes{"Status": "U"},
	})
	assert.False(t, unmatched.Matched())

	matched := newBatchResult(Location{
		Location:   &Point{X: 1, Y: 2},
		Attributes: Attributes{"Status": "M"},
	})
	assert.True(t, matched.Matched())
}

func TestResult_City(t *testing.T) {
	doc := &Document{Locations: []Location{{
		Feature: &Feature{Attributes: Attributes{"Type": "City", "PlaceName": "Kyiv", "City": ""}},
	}}}

	results := extractResults(ForwardQuery{Text: "Kyiv"}, doc)

	require.Len(t, results, 1)
	assert.Equal(t, "Kyiv", results[0].City())
}

func TestResult_MarshalJSON(t *testing.T) {
	res := newBatchResult(Location{
		Address:    "1 Main St",
		Score:      90,
		Location:   &Point{X: math.NaN(), Y: math.NaN()},
		Attributes: Attributes{"Status": "U"},
	})

	data, err := json.Marshal(res)

	require.NoError(t, err)
	assert.JSONEq(t, `{"address": "1 Main St", "score": 90}`, string(data))
}

func TestAPIError_Is(t *testing.T) {
	assert.ErrorIs(t, &APIError{Code: 499, Message: "Token Required"}, ErrEsriUnauthorized)
	assert.ErrorIs(t, fmt.Errorf("batch: %w", &APIError{Code: 498}), ErrEsriUnauthorized)
	assert.False(t, errors.Is(&APIError{Code: 400}, ErrEsriUnauthorized))
}
