package notify

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
)

// FlagTTL is how long a redis flag lives; long enough to cover the run day
// in any timezone.
const FlagTTL = 48 * time.Hour

// FlagStore records that a task already notified for a date.
type FlagStore interface {
	Exists(ctx context.Context, task string, date time.Time) (bool, error)
	Mark(ctx context.Context, task string, date time.Time) error
}

func flagName(task string, date time.Time) string {
	return task + "_" + date.Format("20060102")
}

// FileFlagStore writes <task>_<YYYYMMDD>.flag sentinels under dir.
type FileFlagStore struct {
	dir string
}

func NewFileFlagStore(dir string) *FileFlagStore {
	return &FileFlagStore{dir: dir}
}

func (f *FileFlagStore) path(task string, date time.Time) string {
	return filepath.Join(f.dir, flagName(task, date)+".flag")
}

func (f *FileFlagStore) Exists(_ context.Context, task string, date time.Time) (bool, error) {
	_, err := os.Stat(f.path(task, date))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (f *FileFlagStore) Mark(_ context.Context, task string, date time.Time) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create flag directory: %w", err)
	}
	return os.WriteFile(f.path(task, date), []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o644)
}

// RedisFlagStore keeps flags as expiring keys <prefix>:flag:<task>_<YYYYMMDD>.
type RedisFlagStore struct {
	client *redis.Client
	prefix string
}

func NewRedisFlagStore(client *redis.Client, prefix string) *RedisFlagStore {
	return &RedisFlagStore{client: client, prefix: prefix}
}

func (r *RedisFlagStore) key(task string, date time.Time) string {
	if r.prefix == "" {
		return "flag:" + flagName(task, date)
	}
	return r.prefix + ":flag:" + flagName(task, date)
}

func (r *RedisFlagStore) Exists(ctx context.Context, task string, date time.Time) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(task, date)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisFlagStore) Mark(ctx context.Context, task string, date time.Time) error {
	return r.client.SetNX(ctx, r.key(task, date), time.Now().UTC().Format(time.RFC3339), FlagTTL).Err()
}
