package datastore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danthegoodman1/sdcdb/s3_helper"
)

func TestS3ParquetFileOpensPrefixedKey(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.Header().Set("Content-Length", "42")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := s3_helper.NewClient(s3_helper.Config{Bucket: "blocks", Region: "us-east-1", Endpoint: srv.URL})
	require.NoError(t, err)
	sds := NewS3DataStore(client, "tenant")

	pf, err := sds.ParquetFile(context.Background(), "sales/primary/p/a.parquet")
	require.NoError(t, err)
	assert.Equal(t, http.MethodHead, gotMethod)
	assert.Equal(t, "/blocks/tenant/sales/primary/p/a.parquet", gotPath)
	assert.NoError(t, pf.Close())
}
