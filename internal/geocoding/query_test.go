package geocoding_test

import (
	"testing"

	"github.com/UnknownOlympus/atlas-arcgis/internal/geocoding"
	"github.com/UnknownOlympus/atlas-arcgis/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuery(t *testing.T) {
	t.Run("coordinates become a reverse query", func(t *testing.T) {
		query := geocoding.ParseQuery(" 50.4501 , -30.5234 ")

		reverse, ok := query.(geocoding.ReverseQuery)
		require.True(t, ok)
		assert.Equal(t, models.Coordinates{Latitude: 50.4501, Longitude: -30.5234}, reverse.Coordinates)
	})

	t.Run("address text becomes a forward query", func(t *testing.T) {
		query := geocoding.ParseQuery("м. Київ, вул. Хрещатик, 1")

		forward, ok := query.(geocoding.ForwardQuery)
		require.True(t, ok)
		assert.Equal(t, "м. Київ, вул. Хрещатик, 1", forward.Text)
	})

	t.Run("numbers with extra parts stay forward", func(t *testing.T) {
		_, ok := geocoding.ParseQuery("1, 2, 3").(geocoding.ForwardQuery)
		assert.True(t, ok)
	})
}

func TestIsBlank(t *testing.T) {
	assert.True(t, geocoding.IsBlank(geocoding.ForwardQuery{Text: " \t"}))
	assert.False(t, geocoding.IsBlank(geocoding.ForwardQuery{Text: "Kyiv"}))
	assert.True(t, geocoding.IsBlank(geocoding.BatchQuery{}))
	assert.False(t, geocoding.IsBlank(geocoding.BatchQuery{Items: []geocoding.BatchItem{{Input: "Kyiv"}}}))
	assert.False(t, geocoding.IsBlank(geocoding.ReverseQuery{}))
}

func TestForwardQuery_SanitizedText(t *testing.T) {
	assert.Equal(t, "Kyiv", geocoding.ForwardQuery{Text: "  Kyiv \n"}.SanitizedText())
}
