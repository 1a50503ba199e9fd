package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func noop(ctx context.Context, args gjson.Result) (any, error) { return nil, nil }

func TestNew(t *testing.T) {
	t.Run("applies options", func(t *testing.T) {
		def, err := New("get_weather", noop,
			Description("Current weather for a location"),
			RequiresApproval(),
		)
		require.NoError(t, err)
		assert.Equal(t, "get_weather", def.Name)
		assert.Equal(t, "Current weather for a location", def.Description)
		assert.True(t, def.RequiresApproval)
		require.NotNil(t, def.Schema)
		assert.Equal(t, "object", def.Schema.Type)
	})

	t.Run("rejects missing name", func(t *testing.T) {
		_, err := New("", noop)
		require.Error(t, err)
	})

	t.Run("rejects nil handler", func(t *testing.T) {
		_, err := New("thing", nil)
		require.Error(t, err)
	})
}

func TestMustPanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() { Must("", noop) })
}

func TestParams(t *testing.T) {
	type weatherArgs struct {
		Location string `json:"location" jsonschema:"description=City name"`
		Units    string `json:"units,omitempty"`
	}

	schema := Params[weatherArgs]()
	require.NotNil(t, schema)
	assert.Empty(t, schema.Version)
	assert.Equal(t, "object", schema.Type)

	loc, ok := schema.Properties.Get("location")
	require.True(t, ok)
	assert.Equal(t, "string", loc.Type)
	assert.Contains(t, schema.Required, "location")
}
