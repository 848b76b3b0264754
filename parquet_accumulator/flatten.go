package parquet_accumulator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danthegoodman1/gojsonutils"
)

var ErrNotFlatMap = errors.New("not a flat map")

// FlattenRow flattens nested JSON objects into one level and rewrites every
// key into a valid column name, replacing separators and other disallowed
// characters with '_'.
func FlattenRow(row map[string]any) (map[string]any, error) {
	sep := "_"
	flat, err := gojsonutils.Flatten(row, &sep)
	if err != nil {
		return nil, fmt.Errorf("error flattening JSON map: %w", err)
	}
	flatMap, ok := flat.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %+v", ErrNotFlatMap, flat)
	}
	out := make(map[string]any, len(flatMap))
	for k, v := range flatMap {
		name := sanitizeColumnName(k)
		if _, exists := out[name]; exists {
			return nil, fmt.Errorf("%w: %q collides with another key once sanitized", ErrBadColumnName, k)
		}
		out[name] = v
	}
	return out, nil
}

func sanitizeColumnName(k string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		}
		return '_'
	}, k)
}
