package datastore

import (
	"context"
	"errors"
	"fmt"
	"io"

	s3_pq "github.com/xitongsys/parquet-go-source/s3"
	"github.com/xitongsys/parquet-go/source"

	"github.com/danthegoodman1/sdcdb/s3_helper"
)

type (
	// S3DataStore keeps every object under an optional key prefix of one bucket.
	S3DataStore struct {
		client *s3_helper.Client
		prefix string
	}
)

func NewS3DataStore(client *s3_helper.Client, prefix string) *S3DataStore {
	return &S3DataStore{client: client, prefix: prefix}
}

func (sds *S3DataStore) key(k string) string {
	if sds.prefix == "" {
		return k
	}
	return sds.prefix + "/" + k
}

func (sds *S3DataStore) Put(ctx context.Context, key string, r io.Reader) error {
	_, err := sds.client.WriteBytesToS3(ctx, sds.key(key), r, nil)
	return err
}

func (sds *S3DataStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := sds.client.ReadBytesFromS3(ctx, sds.key(key))
	if errors.Is(err, s3_helper.ErrNoSuchKey) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return b, err
}

func (sds *S3DataStore) ParquetFile(ctx context.Context, key string) (source.ParquetFile, error) {
	r, err := s3_pq.NewS3FileReaderWithClient(ctx, sds.client.S3(), sds.client.Bucket(), sds.key(key))
	if err != nil {
		return nil, fmt.Errorf("error creating new s3 file reader: %w", err)
	}
	return r, nil
}

func (sds *S3DataStore) Delete(ctx context.Context, key string) error {
	return sds.client.DeleteFromS3(ctx, sds.key(key))
}

func (sds *S3DataStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := sds.client.ListS3(ctx, sds.key(prefix))
	if err != nil {
		return nil, err
	}
	if sds.prefix == "" {
		return keys, nil
	}
	for i, k := range keys {
		keys[i] = k[len(sds.prefix)+1:]
	}
	return keys, nil
}

func (sds *S3DataStore) Shutdown(_ context.Context) error {
	return nil
}
