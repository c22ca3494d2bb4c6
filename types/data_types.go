package types

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/datazip-inc/olake-github/utils"
)

type DataType string

const (
	NULL      DataType = "null"
	INT64     DataType = "integer"
	FLOAT64   DataType = "number"
	STRING    DataType = "string"
	BOOL      DataType = "boolean"
	OBJECT    DataType = "object"
	ARRAY     DataType = "array"
	TIMESTAMP DataType = "date-time" // string with date-time format
)

type Record map[string]any

func (r Record) GetStringifiedValue(key string) (string, error) {
	value, found := r[key]
	if !found || value == nil {
		return "", fmt.Errorf("field [%s] missing from record", key)
	}

	switch v := value.(type) {
	case string:
		return v, nil
	case float64:
		// json numbers decode as float64; integral ids must not print in exponent form
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v)), nil
		}
		return fmt.Sprintf("%v", v), nil
	case map[string]any, []any:
		s, err := json.Marshal(v)
		return string(s), err
	default:
		return fmt.Sprintf("%v", v), nil
	}
}

// Property is a dto for catalog properties representation
type Property struct {
	Type   *Set[DataType] `json:"type,omitempty"`
	Format string         `json:"format,omitempty"`
}

func (p *Property) DataType() DataType {
	types := p.Type.Array()
	i, found := utils.ArrayContains(types, func(elem DataType) bool {
		return elem != NULL
	})
	if !found {
		return NULL
	}

	if types[i] == STRING && p.Format == string(TIMESTAMP) {
		return TIMESTAMP
	}
	return types[i]
}

// TypeSchema keeps the declared order of the stream fields
type TypeSchema struct {
	// legacy stream level selection carried by older catalogs
	Selected   *bool
	columns    []string
	properties map[string]*Property
}

func NewTypeSchema() *TypeSchema {
	return &TypeSchema{
		properties: make(map[string]*Property),
	}
}

// AddTypes declares a column, or widens the types of an existing one
func (t *TypeSchema) AddTypes(column string, types ...DataType) *TypeSchema {
	if t.properties == nil {
		t.properties = make(map[string]*Property)
	}

	property, found := t.properties[column]
	if !found {
		t.columns = append(t.columns, column)
		t.properties[column] = &Property{Type: NewSet(types...)}
		return t
	}

	property.Type.Insert(types...)
	return t
}

// AddTimestamp declares a nullable date-time string column
func (t *TypeSchema) AddTimestamp(column string) *TypeSchema {
	t.AddTypes(column, NULL, STRING)
	t.properties[column].Format = string(TIMESTAMP)
	return t
}

func (t *TypeSchema) GetProperty(column string) (*Property, error) {
	property, found := t.properties[column]
	if !found {
		return nil, fmt.Errorf("column [%s] missing from type schema", column)
	}

	return property, nil
}

func (t *TypeSchema) HasColumn(column string) bool {
	_, found := t.properties[column]
	return found
}

// Columns returns the columns in declaration order
func (t *TypeSchema) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Project returns a schema restricted to the given columns, in their given order
func (t *TypeSchema) Project(columns []string) *TypeSchema {
	projected := NewTypeSchema()
	for _, column := range columns {
		property, found := t.properties[column]
		if !found {
			continue
		}
		projected.columns = append(projected.columns, column)
		projected.properties[column] = property
	}
	return projected
}

type typeSchemaJSON struct {
	Type                 []DataType           `json:"type"`
	Selected             *bool                `json:"selected,omitempty"`
	AdditionalProperties bool                 `json:"additionalProperties"`
	Properties           map[string]*Property `json:"properties"`
}

func (t *TypeSchema) MarshalJSON() ([]byte, error) {
	return json.Marshal(&typeSchemaJSON{
		Type:       []DataType{NULL, OBJECT},
		Selected:   t.Selected,
		Properties: t.properties,
	})
}

// UnmarshalJSON loses the declared order of a document; columns are kept sorted instead
func (t *TypeSchema) UnmarshalJSON(data []byte) error {
	aux := typeSchemaJSON{}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	*t = *NewTypeSchema()
	t.Selected = aux.Selected
	for _, column := range utils.SortedKeys(aux.Properties) {
		property := aux.Properties[column]
		if property == nil || property.Type == nil {
			property = &Property{Type: NewSet[DataType]()}
		}
		t.columns = append(t.columns, column)
		t.properties[column] = property
	}

	return nil
}
