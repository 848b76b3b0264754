package datastore

import (
	"context"
	"errors"
	"io"

	"github.com/xitongsys/parquet-go/source"

	"github.com/danthegoodman1/sdcdb/gologger"
)

var (
	logger = gologger.NewLogger()

	ErrNotFound = errors.New("object not found")
)

type (
	// DataStore holds block files, mask files, and index documents by key.
	// Keys are slash separated and relative to the store root.
	DataStore interface {
		Put(ctx context.Context, key string, r io.Reader) error
		// Get returns ErrNotFound for a missing key.
		Get(ctx context.Context, key string) ([]byte, error)
		// ParquetFile opens key for random access by a parquet reader.
		ParquetFile(ctx context.Context, key string) (source.ParquetFile, error)
		// Delete is a no-op for a missing key.
		Delete(ctx context.Context, key string) error
		// List returns every key under prefix in lexical order.
		List(ctx context.Context, prefix string) ([]string, error)

		Shutdown(ctx context.Context) error
	}
)
