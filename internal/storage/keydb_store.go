package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	objectVersionsKeyPrefix = "objver"
)

type keydbStore struct {
	client *redis.Client
	clock  func() time.Time
}

// Config defines KeyDB connection settings.
type Config struct {
	Addr     string
	Username string
	Password string
	Database int
}

// NewKeyDBStore initializes a Store backed by KeyDB.
func NewKeyDBStore(cfg Config, opts Options) (Store, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}

	redisOpts := &redis.Options{
		Addr:     addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.Database,
	}

	client := redis.NewClient(redisOpts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to keydb: %w", err)
	}

	return &keydbStore{
		client: client,
		clock:  opts.clock(),
	}, nil
}

func (s *keydbStore) PutBody(ctx context.Context, bucket, key string, body []byte) (PutResult, error) {
	if err := validateLocation(bucket, key); err != nil {
		return PutResult{}, err
	}

	// Scores are float64, so keep the stamp at microsecond precision.
	now := s.clock().UTC().Truncate(time.Microsecond)
	versionID := computeVersionID(bucket, key, body, now)

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, bodyKey(bucket, key, versionID), body, 0)
	pipe.ZAdd(ctx, versionsKey(bucket, key), redis.Z{Score: float64(now.UnixMicro()), Member: versionID})
	pipe.SAdd(ctx, bucketKeysKey(bucket), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return PutResult{}, err
	}

	return PutResult{VersionID: versionID, LastModified: now}, nil
}

func (s *keydbStore) ListVersions(ctx context.Context, bucket, key string) ([]ObjectVersion, error) {
	entries, err := s.client.ZRangeWithScores(ctx, versionsKey(bucket, key), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	result := make([]ObjectVersion, 0, len(entries))
	for i, entry := range entries {
		id, ok := entry.Member.(string)
		if !ok {
			continue
		}
		result = append(result, ObjectVersion{
			Key:          key,
			VersionID:    id,
			LastModified: scoreTime(entry.Score),
			IsLatest:     i == len(entries)-1,
		})
	}
	return normalizeVersions(key, result), nil
}

func (s *keydbStore) GetBody(ctx context.Context, bucket, key, versionID string) (Object, error) {
	var (
		score float64
		found bool
	)

	if versionID == "" {
		latest, err := s.client.ZRevRangeWithScores(ctx, versionsKey(bucket, key), 0, 0).Result()
		if err != nil {
			return Object{}, err
		}
		if len(latest) == 0 {
			return Object{}, &NotFoundError{Resource: "key", Key: key}
		}
		id, _ := latest[0].Member.(string)
		versionID, score, found = id, latest[0].Score, true
	} else {
		sc, err := s.client.ZScore(ctx, versionsKey(bucket, key), versionID).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return Object{}, err
		}
		score, found = sc, err == nil
	}
	if !found {
		return Object{}, &NotFoundError{Resource: "version", Key: versionID}
	}

	body, err := s.client.Get(ctx, bodyKey(bucket, key, versionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Object{}, &NotFoundError{Resource: "version", Key: versionID}
		}
		return Object{}, err
	}

	return Object{
		Key:          key,
		Body:         body,
		VersionID:    versionID,
		LastModified: scoreTime(score),
	}, nil
}

func (s *keydbStore) ListKeys(ctx context.Context, bucket string) ([]string, error) {
	names, err := s.client.SMembers(ctx, bucketKeysKey(bucket)).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return names, nil
}

func scoreTime(score float64) time.Time {
	return time.UnixMicro(int64(score)).UTC()
}

func versionsKey(bucket, key string) string {
	return fmt.Sprintf("%s:%s:%s", objectVersionsKeyPrefix, bucket, key)
}

func bodyKey(bucket, key, versionID string) string {
	return fmt.Sprintf("objbody:%s:%s:%s", bucket, key, versionID)
}

func bucketKeysKey(bucket string) string {
	return fmt.Sprintf("objkeys:%s", bucket)
}
