package http_server

import (
	"context"
	"net/http"
	"time"

	"github.com/danthegoodman1/sdcdb/utils"
)

type OptimizeReqBody struct {
	// Also build range partitions on this column when set
	PartitionColumn string
	MinLeafSize     *int64 `validate:"omitempty,min=1"`
	MaxRuntimeSec   *int64 `validate:"omitempty,min=1"`
}

func (s *HTTPServer) OptimizeHandler(c *CustomContext) error {
	var reqBody OptimizeReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*time.Duration(utils.Deref(reqBody.MaxRuntimeSec, 600)))
	defer cancel()

	stats, err := s.DB.Table(c.Param("table")).Optimize(ctx, reqBody.PartitionColumn, utils.Deref(reqBody.MinLeafSize, utils.MIN_LEAF_SIZE))
	if err != nil {
		return c.TableError(err, "error optimizing table")
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *HTTPServer) GetIndexes(c *CustomContext) error {
	indexes, err := s.DB.Indexes(c.Request().Context(), c.Param("table"))
	if err != nil {
		return c.TableError(err, "error getting indexes")
	}
	if c.QueryParam("verify") == "true" {
		if err = s.DB.VerifyIndexes(c.Request().Context(), c.Param("table")); err != nil {
			return c.TableError(err, "error verifying indexes")
		}
	}
	return c.JSON(http.StatusOK, indexes)
}

func (s *HTTPServer) ListTables(c *CustomContext) error {
	tables, err := s.DB.MetaStore.ListTables(c.Request().Context())
	if err != nil {
		return c.InternalError(err, "error listing tables")
	}
	return c.JSON(http.StatusOK, utils.ArrayOrEmpty(tables))
}
