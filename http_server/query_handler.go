package http_server

import (
	"context"
	"net/http"
	"time"

	"github.com/danthegoodman1/sdcdb/dataframe"
	"github.com/danthegoodman1/sdcdb/part"
	"github.com/danthegoodman1/sdcdb/pruner"
	"github.com/danthegoodman1/sdcdb/utils"
)

type (
	FilterReq struct {
		Column   string `validate:"required"`
		Operator string `validate:"required"`
		// A constant, or a column name when IsCol is set
		Operand string `validate:"required"`
		IsCol   bool
	}

	QueryReqBody struct {
		Filters     []FilterReq `validate:"dive"`
		Projections []string
		// auto, primary, rangePartition or predicateTree
		Index string
		Head  *int `validate:"omitempty,min=0"`
	}

	QueryResponse struct {
		QueryID       string
		IndexKind     part.IndexKind
		IndexID       string
		TotalBlocks   int
		ScannedBlocks int
		PrunedBlocks  int
		RowsRead      int64
		TimeMS        int64
		Columns       []string
		Rows          []map[string]any
	}
)

func (s *HTTPServer) QueryHandler(c *CustomContext) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*60)
	defer cancel()

	var reqBody QueryReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	mode, err := pruner.ParseMode(reqBody.Index)
	if err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	df := s.DB.Table(c.Param("table")).ChooseIndex(mode).Projection(reqBody.Projections...)
	for _, f := range reqBody.Filters {
		df = df.Filter(f.Column, f.Operator, f.Operand, f.IsCol)
	}

	var res *dataframe.Result
	if reqBody.Head != nil {
		res, err = df.Head(ctx, *reqBody.Head)
	} else {
		res, err = df.Collect(ctx)
	}
	if err != nil {
		return c.TableError(err, "error running query")
	}

	rows := make([]map[string]any, res.Table.NumRows())
	for i := range rows {
		rows[i] = res.Table.Row(i)
	}
	return c.JSON(http.StatusOK, QueryResponse{
		QueryID:       res.QueryID,
		IndexKind:     res.IndexKind,
		IndexID:       res.IndexID,
		TotalBlocks:   res.TotalBlocks,
		ScannedBlocks: res.ScannedBlocks,
		PrunedBlocks:  res.PrunedBlocks,
		RowsRead:      res.RowsRead,
		TimeMS:        res.TimeMS,
		Columns:       utils.ArrayOrEmpty(res.Table.ColumnNames()),
		Rows:          rows,
	})
}
