package parquet_accumulator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/danthegoodman1/sdcdb/table"
)

var ErrUnexpectedField = errors.New("unexpected parquet field")

// EncodeTable writes t as a single parquet file.
func EncodeTable(t *table.Table, w io.Writer) error {
	pa, err := NewParquetAccumulatorFromSchema(t.Schema())
	if err != nil {
		return err
	}
	parquetSchema, err := pa.GetSchemaString()
	if err != nil {
		return fmt.Errorf("error getting schema string: %w", err)
	}
	pw, err := writer.NewJSONWriterFromWriter(parquetSchema, w, 4)
	if err != nil {
		return fmt.Errorf("error creating new JSON writer: %w", err)
	}

	n := t.NumRows()
	for i := 0; i < n; i++ {
		rowBytes, err := json.Marshal(t.Row(i))
		if err != nil {
			return fmt.Errorf("error in json.Marshal of row %d: %w", i, err)
		}
		if err = pw.Write(string(rowBytes)); err != nil {
			return fmt.Errorf("error in pw.Write for row %d: %w", i, err)
		}
	}
	if err = pw.WriteStop(); err != nil {
		return fmt.Errorf("error in pw.WriteStop: %w", err)
	}
	return nil
}

// EncodeTableBytes is EncodeTable into a buffer.
func EncodeTableBytes(t *table.Table) (*bytes.Buffer, error) {
	var b bytes.Buffer
	if err := EncodeTable(t, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// DecodeTable reads a flat numeric parquet file into a table. Column types
// come from the file footer. Names are matched against known, ignoring the
// case of the first letter, since parquet field names are exported. pf is
// closed when done.
func DecodeTable(pf source.ParquetFile, known []string) (*table.Table, error) {
	defer pf.Close()
	pr, err := reader.NewParquetReader(pf, nil, 4)
	if err != nil {
		return nil, fmt.Errorf("error creating parquet reader: %w", err)
	}
	defer pr.ReadStop()

	elems := pr.Footer.GetSchema()
	if len(elems) == 0 {
		return nil, fmt.Errorf("%w: file has no schema", ErrUnexpectedField)
	}
	num := int(pr.GetNumRows())
	cols := make([]*table.Column, 0, len(elems)-1)
	infos := pr.SchemaHandler.Infos
	for i, el := range elems[1:] {
		// the footer carries in-names once read, the tag keeps the name as written
		name := el.GetName()
		if i+1 < len(infos) && infos[i+1].ExName != "" {
			name = infos[i+1].ExName
		}
		for _, k := range known {
			if exportedName(k) == exportedName(name) {
				name = k
				break
			}
		}
		if el.GetNumChildren() > 0 {
			return nil, fmt.Errorf("%w: nested field %s", ErrUnexpectedField, name)
		}
		switch el.GetType() {
		case parquet.Type_INT64, parquet.Type_INT32:
			cols = append(cols, table.NewIntColumn(name, make([]int64, 0, num)))
		case parquet.Type_DOUBLE, parquet.Type_FLOAT:
			cols = append(cols, table.NewDoubleColumn(name, make([]float64, 0, num)))
		default:
			return nil, fmt.Errorf("%w: %s has type %s", ErrUnexpectedField, name, el.GetType())
		}
	}

	if num > 0 {
		rows, err := pr.ReadByNumber(num)
		if err != nil {
			return nil, fmt.Errorf("error in ReadByNumber: %w", err)
		}
		for ri, row := range rows {
			// row is a struct with one field per column, in schema order
			v := reflect.ValueOf(row)
			if v.Kind() == reflect.Ptr {
				v = v.Elem()
			}
			if v.NumField() != len(cols) {
				return nil, fmt.Errorf("%w: row %d has %d fields, schema has %d", ErrUnexpectedField, ri, v.NumField(), len(cols))
			}
			for i, c := range cols {
				f := v.Field(i)
				if f.Kind() == reflect.Ptr {
					if f.IsNil() {
						return nil, fmt.Errorf("%w: null %s in row %d", ErrUnexpectedField, c.Name, ri)
					}
					f = f.Elem()
				}
				switch f.Kind() {
				case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
					if c.Type == table.Int {
						c.Ints = append(c.Ints, f.Int())
					} else {
						c.Floats = append(c.Floats, float64(f.Int()))
					}
				case reflect.Float32, reflect.Float64:
					if c.Type != table.Double {
						return nil, fmt.Errorf("%w: float value in int column %s", ErrUnexpectedField, c.Name)
					}
					c.Floats = append(c.Floats, f.Float())
				default:
					return nil, fmt.Errorf("%w: %s is %s", ErrUnexpectedField, c.Name, f.Kind())
				}
			}
		}
	}
	return table.New(cols...)
}
