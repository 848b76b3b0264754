package http_server

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/danthegoodman1/sdcdb/dataframe"
	"github.com/danthegoodman1/sdcdb/gologger"
	"github.com/danthegoodman1/sdcdb/mask"
	"github.com/danthegoodman1/sdcdb/materializer"
	"github.com/danthegoodman1/sdcdb/metastore"
	"github.com/danthegoodman1/sdcdb/parquet_accumulator"
	"github.com/danthegoodman1/sdcdb/partitioner"
	"github.com/danthegoodman1/sdcdb/predicate"
	"github.com/danthegoodman1/sdcdb/pruner"
	"github.com/danthegoodman1/sdcdb/table"
)

type CustomContext struct {
	echo.Context
	RequestID string
}

func CreateReqContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		reqID := uuid.NewString()
		ctx := context.WithValue(c.Request().Context(), gologger.ReqIDKey, reqID)
		l := logger.With().Str("reqID", reqID).Logger()
		ctx = l.WithContext(ctx)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(echo.HeaderXRequestID, reqID)
		cc := &CustomContext{
			Context:   c,
			RequestID: reqID,
		}
		return next(cc)
	}
}

// Casts to custom context for the handler, so this doesn't have to be done per handler
func ccHandler(h func(*CustomContext) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		return h(c.(*CustomContext))
	}
}

func (c *CustomContext) internalErrorMessage() string {
	return "internal error, request id: " + c.RequestID
}

func (c *CustomContext) InternalError(err error, msg string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		zerolog.Ctx(c.Request().Context()).Warn().CallerSkipFrame(1).Msg(err.Error())
	} else {
		zerolog.Ctx(c.Request().Context()).Error().CallerSkipFrame(1).Err(err).Msg(msg)
	}
	return c.String(http.StatusInternalServerError, c.internalErrorMessage())
}

// TableError answers with the status matching a known table error, falling
// back to InternalError.
func (c *CustomContext) TableError(err error, msg string) error {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		return c.InternalError(err, msg)
	}
	zerolog.Ctx(c.Request().Context()).Debug().Err(err).Int("status", status).Msg(msg)
	return c.String(status, err.Error())
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, metastore.ErrTableNotFound),
		errors.Is(err, pruner.ErrIndexNotFound):
		return http.StatusNotFound
	case errors.Is(err, metastore.ErrConcurrentCommit):
		return http.StatusConflict
	case errors.Is(err, metastore.ErrInvalidTableID),
		errors.Is(err, table.ErrColumnNotFound),
		errors.Is(err, table.ErrTypeMismatch),
		errors.Is(err, table.ErrMissingRowColumn),
		errors.Is(err, predicate.ErrUnknownOperator),
		errors.Is(err, predicate.ErrBadOperand),
		errors.Is(err, predicate.ErrEmptyColumn),
		errors.Is(err, pruner.ErrUnknownMode),
		errors.Is(err, parquet_accumulator.ErrBadColumnName),
		errors.Is(err, parquet_accumulator.ErrUnsupportedValue),
		errors.Is(err, parquet_accumulator.ErrNotFlatMap),
		errors.Is(err, partitioner.ErrNoCandidatePredicates),
		errors.Is(err, materializer.ErrNoColumns),
		errors.Is(err, dataframe.ErrNoRows),
		errors.Is(err, mask.ErrTooManyRows):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
