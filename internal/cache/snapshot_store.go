package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"catalog-import-service/internal/models"
	"github.com/redis/go-redis/v9"
)

var ErrSnapshotNotFound = errors.New("import snapshot not found")

const snapshotKeyPrefix = "import:job:"

// SnapshotStore mirrors import job snapshots into Redis so status survives a
// restart of the process that ran the job.
type SnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSnapshotStore(client *redis.Client, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{client: client, ttl: ttl}
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func (s *SnapshotStore) key(jobID string) string {
	return snapshotKeyPrefix + jobID
}

// Save overwrites the stored snapshot and refreshes its TTL.
func (s *SnapshotStore) Save(ctx context.Context, job models.ImportJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key(job.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot %s: %w", job.ID, err)
	}
	return nil
}

func (s *SnapshotStore) Load(ctx context.Context, jobID string) (*models.ImportJob, error) {
	data, err := s.client.Get(ctx, s.key(jobID)).Bytes()
	if err == redis.Nil {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", jobID, err)
	}

	var job models.ImportJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("corrupt snapshot %s: %w", jobID, err)
	}
	return &job, nil
}
