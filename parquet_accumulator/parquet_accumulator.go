package parquet_accumulator

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/danthegoodman1/sdcdb/table"
)

type (
	// ParquetSchemaAccumulator infers a flat numeric schema from rows. A
	// column that only ever held integers is INT64, anything else is DOUBLE.
	ParquetSchemaAccumulator struct {
		schema ParquetSchema
	}

	ParquetSchema struct {
		TagStructs SchemaTag        `json:"-,omitempty"`
		Fields     []*ParquetSchema `json:",omitempty"`
	}

	ParquetJSONSchema struct {
		Tag    string               `json:",omitempty"`
		Fields []*ParquetJSONSchema `json:",omitempty"`
	}

	SchemaTag struct {
		Name           string         `json:"name,omitempty"`
		Type           string         `json:"type,omitempty"`
		ConvertedType  string         `json:"convertedtype,omitempty"`
		RepetitionType RepetitionType `json:"repetitiontype,omitempty"`
		Encoding       string         `json:"encoding,omitempty"`
	}

	RepetitionType string
)

var (
	Optional RepetitionType = "OPTIONAL"
	Required RepetitionType = "REQUIRED"

	ErrUnsupportedValue = errors.New("unsupported value")
	ErrBadColumnName    = errors.New("bad column name")

	columnNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

const (
	parquetInt64  = "INT64"
	parquetDouble = "DOUBLE"
)

func NewParquetAccumulator() ParquetSchemaAccumulator {
	return ParquetSchemaAccumulator{
		schema: ParquetSchema{
			TagStructs: SchemaTag{
				Name:           "parquet_go_root",
				RepetitionType: Required,
			},
		},
	}
}

// NewParquetAccumulatorFromSchema starts from a known table schema.
func NewParquetAccumulatorFromSchema(cols []table.ColumnSchema) (ParquetSchemaAccumulator, error) {
	pa := NewParquetAccumulator()
	for _, c := range cols {
		if err := pa.addField(c.Name, c.DataType); err != nil {
			return pa, err
		}
	}
	return pa, nil
}

// ValidateColumnName checks that name can be a parquet field. Field names are
// exported as Go identifiers, so the first letter is case-folded.
func ValidateColumnName(name string) error {
	if !columnNameRegex.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrBadColumnName, name)
	}
	return nil
}

func (pa *ParquetSchemaAccumulator) WriteRow(row map[string]any) error {
	// sorted so the field order does not depend on map iteration
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		typ, err := inferType(row[key])
		if err != nil {
			return fmt.Errorf("column %s: %w", key, err)
		}
		if field := pa.field(key); field != nil {
			if typ == table.Double {
				field.TagStructs.Type = parquetDouble
			}
			continue
		}
		if err = pa.addField(key, typ); err != nil {
			return err
		}
	}
	return nil
}

func inferType(v any) (table.DataType, error) {
	switch n := v.(type) {
	case int, int32, int64:
		return table.Int, nil
	case float32, float64:
		return table.Double, nil
	case json.Number:
		if _, err := n.Int64(); err == nil {
			return table.Int, nil
		}
		if _, err := n.Float64(); err == nil {
			return table.Double, nil
		}
	}
	return "", fmt.Errorf("%w: %T %v", ErrUnsupportedValue, v, v)
}

func (pa *ParquetSchemaAccumulator) addField(name string, typ table.DataType) error {
	if err := ValidateColumnName(name); err != nil {
		return err
	}
	exported := exportedName(name)
	for _, f := range pa.schema.Fields {
		if exportedName(f.TagStructs.Name) == exported {
			return fmt.Errorf("%w: %q collides with %q", ErrBadColumnName, name, f.TagStructs.Name)
		}
	}
	pt := parquetDouble
	switch typ {
	case table.Int:
		pt = parquetInt64
	case table.Double:
	default:
		return fmt.Errorf("%w: %q", table.ErrUnknownDataType, typ)
	}
	pa.schema.Fields = append(pa.schema.Fields, &ParquetSchema{
		TagStructs: SchemaTag{
			Name:           name,
			Type:           pt,
			RepetitionType: Required,
		},
	})
	return nil
}

func exportedName(name string) string {
	return strings.ToUpper(name[:1]) + name[1:]
}

func (pa *ParquetSchemaAccumulator) field(name string) *ParquetSchema {
	for _, field := range pa.schema.Fields {
		if field.TagStructs.Name == name {
			return field
		}
	}
	return nil
}

func (pa *ParquetSchemaAccumulator) GetColumnNames() []string {
	var cols []string
	for _, field := range pa.schema.Fields {
		cols = append(cols, field.TagStructs.Name)
	}
	return cols
}

func (ps *ParquetSchema) GetType() table.DataType {
	if ps.TagStructs.Type == parquetInt64 {
		return table.Int
	}
	return table.Double
}

// GetColumnTypes returns the types of columns in the same order as GetColumnNames
func (pa *ParquetSchemaAccumulator) GetColumnTypes() []table.DataType {
	var cols []table.DataType
	for _, field := range pa.schema.Fields {
		cols = append(cols, field.GetType())
	}
	return cols
}

func (pa *ParquetSchemaAccumulator) Schema() []table.ColumnSchema {
	out := make([]table.ColumnSchema, len(pa.schema.Fields))
	for i, field := range pa.schema.Fields {
		out[i] = table.ColumnSchema{Name: field.TagStructs.Name, DataType: field.GetType()}
	}
	return out
}

// ToParquetJSONSchema recursively converts
func (ps *ParquetSchema) ToParquetJSONSchema() *ParquetJSONSchema {
	var tagArr []string
	if ps.TagStructs.Type != "" {
		tagArr = append(tagArr, "type="+ps.TagStructs.Type)
	}
	if ps.TagStructs.ConvertedType != "" {
		tagArr = append(tagArr, "convertedtype="+ps.TagStructs.ConvertedType)
	}
	if ps.TagStructs.Encoding != "" {
		tagArr = append(tagArr, "encoding="+ps.TagStructs.Encoding)
	}
	if ps.TagStructs.Name != "" {
		tagArr = append(tagArr, "name="+ps.TagStructs.Name)
	}
	if string(ps.TagStructs.RepetitionType) != "" {
		tagArr = append(tagArr, "repetitiontype="+string(ps.TagStructs.RepetitionType))
	}
	var fields []*ParquetJSONSchema
	for _, field := range ps.Fields {
		fields = append(fields, field.ToParquetJSONSchema())
	}
	return &ParquetJSONSchema{
		Tag:    strings.Join(tagArr, ", "),
		Fields: fields,
	}
}

// GetSchemaString returns the JSON formatted schema string
func (pa *ParquetSchemaAccumulator) GetSchemaString() (string, error) {
	b, err := json.Marshal(pa.schema.ToParquetJSONSchema())
	if err != nil {
		return "", fmt.Errorf("error in json.Marshal: %w", err)
	}
	return string(b), nil
}
