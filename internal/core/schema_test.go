package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const splintSchema = `{
	"fields": [
		{"name": "width_mm", "type": "number", "required": true, "min": 1, "max": 10},
		{"name": "length_mm", "type": "number", "min": 50, "max": 400, "default": 180},
		{"name": "label", "type": "string", "max_length": 32},
		{"name": "perforated", "type": "boolean", "default": true}
	]
}`

func TestParseSchema(t *testing.T) {
	schema, err := ParseSchema(splintSchema)
	require.NoError(t, err)
	assert.Len(t, schema.Fields, 4)
	assert.Equal(t, "width_mm", schema.Fields[0].Name)
	assert.True(t, schema.Fields[0].Required)
}

func TestParseSchemaRejectsUnknownType(t *testing.T) {
	_, err := ParseSchema(`{"fields": [{"name": "x", "type": "matrix"}]}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matrix")
}

func TestParseSchemaRejectsMalformedJSON(t *testing.T) {
	_, err := ParseSchema(`{"fields": [`)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	schema, err := ParseSchema(splintSchema)
	require.NoError(t, err)

	tests := []struct {
		name   string
		params map[string]interface{}
		reason string
	}{
		{
			name:   "valid",
			params: map[string]interface{}{"width_mm": 3.5, "label": "left wrist"},
		},
		{
			name:   "missing required",
			params: map[string]interface{}{"label": "left wrist"},
			reason: "parameter 'width_mm' is required",
		},
		{
			name:   "below minimum",
			params: map[string]interface{}{"width_mm": 0.5},
			reason: "parameter 'width_mm' must be at least 1",
		},
		{
			name:   "above maximum",
			params: map[string]interface{}{"width_mm": 11.0},
			reason: "parameter 'width_mm' must be at most 10",
		},
		{
			name:   "wrong type",
			params: map[string]interface{}{"width_mm": "wide"},
			reason: "parameter 'width_mm' must be a number",
		},
		{
			name:   "string too long",
			params: map[string]interface{}{"width_mm": 3.0, "label": "0123456789012345678901234567890123456789"},
			reason: "parameter 'label' must be at most 32 characters",
		},
		{
			name:   "boolean type mismatch",
			params: map[string]interface{}{"width_mm": 3.0, "perforated": "yes"},
			reason: "parameter 'perforated' must be a boolean",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := schema.Validate(tc.params)
			if tc.reason == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.reason, err.Error())

			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

// Fields validate in declared order, so when several are violated the
// reported one must be the first declared.
func TestValidateReportsFirstDeclaredViolation(t *testing.T) {
	schema, err := ParseSchema(splintSchema)
	require.NoError(t, err)

	err = schema.Validate(map[string]interface{}{
		"length_mm":  5.0,
		"perforated": "also wrong",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "width_mm")
}

func TestApplyDefaults(t *testing.T) {
	schema, err := ParseSchema(splintSchema)
	require.NoError(t, err)

	params := schema.ApplyDefaults(map[string]interface{}{"width_mm": 3.0})
	assert.Equal(t, 3.0, params["width_mm"])
	assert.Equal(t, float64(180), params["length_mm"])
	assert.Equal(t, true, params["perforated"])
	_, hasLabel := params["label"]
	assert.False(t, hasLabel)
}

func TestApplyDefaultsDoesNotOverwrite(t *testing.T) {
	schema, err := ParseSchema(splintSchema)
	require.NoError(t, err)

	original := map[string]interface{}{"width_mm": 3.0, "perforated": false}
	params := schema.ApplyDefaults(original)
	assert.Equal(t, false, params["perforated"])

	// Input map must not be mutated.
	_, hasLength := original["length_mm"]
	assert.False(t, hasLength)
}
