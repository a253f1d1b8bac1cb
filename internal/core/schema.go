package core

import (
	"encoding/json"
	"fmt"
)

const (
	FieldTypeNumber  = "number"
	FieldTypeString  = "string"
	FieldTypeBoolean = "boolean"
)

type ParamField struct {
	Name      string      `json:"name"`
	Type      string      `json:"type"`
	Required  bool        `json:"required"`
	Min       *float64    `json:"min,omitempty"`
	Max       *float64    `json:"max,omitempty"`
	MaxLength *int        `json:"max_length,omitempty"`
	Default   interface{} `json:"default,omitempty"`
}

// ParamSchema declares the parameter fields of a design. Fields are a list,
// not a map: validation reports violations in declared order.
type ParamSchema struct {
	Fields []ParamField `json:"fields"`
}

func ParseSchema(jsonStr string) (*ParamSchema, error) {
	var schema ParamSchema
	if err := json.Unmarshal([]byte(jsonStr), &schema); err != nil {
		return nil, fmt.Errorf("failed to parse schema JSON: %w", err)
	}
	for _, f := range schema.Fields {
		switch f.Type {
		case FieldTypeNumber, FieldTypeString, FieldTypeBoolean:
		default:
			return nil, fmt.Errorf("unsupported field type '%s' for '%s'", f.Type, f.Name)
		}
	}
	return &schema, nil
}

// Validate checks each declared field in order and returns a ValidationError
// for the first violation it finds.
func (s *ParamSchema) Validate(params map[string]interface{}) error {
	for _, field := range s.Fields {
		value, provided := params[field.Name]
		if !provided {
			if field.Required {
				return &ValidationError{Field: field.Name, Reason: "is required"}
			}
			continue
		}

		switch field.Type {
		case FieldTypeNumber:
			num, ok := toNumber(value)
			if !ok {
				return &ValidationError{Field: field.Name, Reason: "must be a number"}
			}
			if field.Min != nil && num < *field.Min {
				return &ValidationError{
					Field:  field.Name,
					Reason: fmt.Sprintf("must be at least %v", *field.Min),
				}
			}
			if field.Max != nil && num > *field.Max {
				return &ValidationError{
					Field:  field.Name,
					Reason: fmt.Sprintf("must be at most %v", *field.Max),
				}
			}
		case FieldTypeString:
			str, ok := value.(string)
			if !ok {
				return &ValidationError{Field: field.Name, Reason: "must be a string"}
			}
			if field.MaxLength != nil && len(str) > *field.MaxLength {
				return &ValidationError{
					Field:  field.Name,
					Reason: fmt.Sprintf("must be at most %d characters", *field.MaxLength),
				}
			}
		case FieldTypeBoolean:
			if _, ok := value.(bool); !ok {
				return &ValidationError{Field: field.Name, Reason: "must be a boolean"}
			}
		}
	}
	return nil
}

// ApplyDefaults returns a copy of params with declared defaults filled in for
// absent fields.
func (s *ParamSchema) ApplyDefaults(params map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(params))
	for k, v := range params {
		result[k] = v
	}
	for _, field := range s.Fields {
		if _, provided := result[field.Name]; !provided && field.Default != nil {
			result[field.Name] = field.Default
		}
	}
	return result
}

func toNumber(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
