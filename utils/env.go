package utils

import "os"

var (
	DATA_DIR = GetEnvOrDefault("DATA_DIR", "./data")

	// file, redis, or crdb
	METASTORE = GetEnvOrDefault("METASTORE", "file")
	// disk or s3
	DATASTORE = GetEnvOrDefault("DATASTORE", "disk")

	CRDB_DSN = os.Getenv("CRDB_DSN")

	REDIS_ADDR     = GetEnvOrDefault("REDIS_ADDR", "localhost:6379")
	REDIS_PASSWORD = os.Getenv("REDIS_PASSWORD")

	// credentials come from AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY
	AWS_DEFAULT_REGION = GetEnvOrDefault("AWS_DEFAULT_REGION", "us-east-1")

	S3_BUCKET_NAME = os.Getenv("S3_BUCKET_NAME")
	S3_ENDPOINT    = os.Getenv("S3_ENDPOINT")

	HTTP_PORT = GetEnvOrDefault("HTTP_PORT", "8080")
	// For load balancers needing some time to de-register the pod
	SHUTDOWN_SLEEP_SEC = GetEnvOrDefaultInt("SHUTDOWN_SLEEP_SEC", 0)

	MIN_LEAF_SIZE    = GetEnvOrDefaultInt("MIN_LEAF_SIZE", 50_000)
	LOAD_CONCURRENCY = GetEnvOrDefaultInt("LOAD_CONCURRENCY", 8)
)
