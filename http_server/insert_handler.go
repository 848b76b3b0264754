package http_server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type (
	InsertReqBody struct {
		// Line-delimited JSON (NDJSON)
		RowsString *string
		// Array of JSON
		Rows []map[string]any
	}
)

func (s *HTTPServer) InsertHandler(c *CustomContext) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*60)
	defer cancel()
	defer c.Request().Body.Close()

	var reqBody InsertReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	rows := reqBody.Rows
	if reqBody.RowsString != nil {
		ndRows, err := parseNDJSON(*reqBody.RowsString)
		if err != nil {
			return c.String(http.StatusBadRequest, err.Error())
		}
		rows = append(rows, ndRows...)
	}
	if len(rows) == 0 {
		return c.String(http.StatusBadRequest, "no rows found")
	}

	stats, err := s.DB.Table(c.Param("table")).Ingest(ctx, rows)
	if err != nil {
		return c.TableError(err, "error ingesting rows")
	}

	return c.JSON(http.StatusOK, stats)
}

// parseNDJSON decodes one JSON object per line, keeping numbers as
// json.Number so integers are not widened to doubles.
func parseNDJSON(s string) ([]map[string]any, error) {
	var rows []map[string]any
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	for i := 0; ; i++ {
		var row map[string]any
		err := dec.Decode(&row)
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("line %d was not a JSON object: %w", i+1, err)
		}
		if row == nil {
			return nil, fmt.Errorf("line %d was not a JSON object", i+1)
		}
		rows = append(rows, row)
	}
}
