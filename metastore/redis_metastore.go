package metastore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

type (
	RedisMetaStore struct {
		client *redis.Client
	}
)

func NewRedisMetaStore(ctx context.Context, addr, password string, pingTest bool) (*RedisMetaStore, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Msg("connecting to redis metastore")
	rms := &RedisMetaStore{
		client: redis.NewClient(&redis.Options{
			Addr:        addr,
			Password:    password,
			DB:          0,
			DialTimeout: time.Second * 3,
		}),
	}

	// Ping test first to ensure valid connection
	if pingTest {
		logger.Debug().Msg("running redis ping test")
		s := time.Now()
		_, err := rms.client.Ping(ctx).Result()
		if err != nil {
			rms.client.Close()
			return nil, fmt.Errorf("error pinging redis: %w", err)
		}
		logger.Debug().Msgf("redis ping test successful in %s", time.Since(s))
	}

	return rms, nil
}

func (rms *RedisMetaStore) TableKey(tableID string) string {
	return "t_" + tableID
}

func (rms *RedisMetaStore) Load(ctx context.Context, tableID string) (Snapshot, error) {
	if err := ValidateTableID(tableID); err != nil {
		return Snapshot{}, err
	}
	logger := zerolog.Ctx(ctx)
	logger.Debug().Str("table", tableID).Msg("loading snapshot from redis")
	raw, err := rms.client.Get(ctx, rms.TableKey(tableID)).Result()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrTableNotFound, tableID)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("error in redis GET: %w", err)
	}
	return decodeSnapshot([]byte(raw))
}

// Commit runs the version check and write in a WATCH transaction.
func (rms *RedisMetaStore) Commit(ctx context.Context, tableID string, snap *Snapshot) error {
	if err := ValidateTableID(tableID); err != nil {
		return err
	}
	key := rms.TableKey(tableID)
	var next Snapshot
	err := rms.client.Watch(ctx, func(tx *redis.Tx) error {
		var stored int64
		raw, err := tx.Get(ctx, key).Result()
		exists := err == nil
		switch {
		case exists:
			current, err := decodeSnapshot([]byte(raw))
			if err != nil {
				return err
			}
			stored = current.Version
		case !errors.Is(err, redis.Nil):
			return fmt.Errorf("error in redis GET: %w", err)
		}

		next, err = prepareCommit(tableID, stored, exists, snap)
		if err != nil {
			return err
		}
		b, err := encodeSnapshot(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, string(b), 0)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: table %s", ErrConcurrentCommit, tableID)
	}
	if err != nil {
		return fmt.Errorf("error in redis WATCH transaction: %w", err)
	}
	*snap = next
	return nil
}

func (rms *RedisMetaStore) ListTables(ctx context.Context) ([]string, error) {
	logger := zerolog.Ctx(ctx)
	var cursor uint64
	tables := make([]string, 0)

	// Loop until we have all the results
	for {
		logger.Debug().Msgf("running redis SCAN with cursor %d", cursor)
		keys, next, err := rms.client.Scan(ctx, cursor, "t_*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("error in redis SCAN: %w", err)
		}
		for _, k := range keys {
			tables = append(tables, strings.TrimPrefix(k, "t_"))
		}
		if next == 0 {
			return tables, nil
		}
		cursor = next
	}
}

func (rms *RedisMetaStore) Shutdown(_ context.Context) error {
	err := rms.client.Close()
	if err != nil {
		return fmt.Errorf("error closing redis client: %w", err)
	}
	return nil
}
