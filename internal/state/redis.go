package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"marketflow/internal/model"
)

// advanceScript sets the key only when the new date sorts after the stored
// one. YYYY-MM-DD strings order the same as the dates they encode.
var advanceScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'last_date')
if (not cur) or ARGV[1] > cur then
	redis.call('HSET', KEYS[1], 'last_date', ARGV[1], 'updated_at', ARGV[2])
	return 1
end
return 0
`)

// Redis keeps one hash per instrument under <prefix>:state:<code>.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, url, prefix string) (*Redis, error) {
	client, err := Connect(ctx, url)
	if err != nil {
		return nil, err
	}
	return &Redis{client: client, prefix: prefix}, nil
}

// Connect parses a redis:// or rediss:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, errors.New("storage.redis.url is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("could not connect to redis: %w", err)
	}
	return client, nil
}

func (r *Redis) key(code string) string {
	if r.prefix == "" {
		return "state:" + code
	}
	return r.prefix + ":state:" + code
}

func (r *Redis) Get(ctx context.Context, code string) (FetchState, error) {
	vals, err := r.client.HGetAll(ctx, r.key(code)).Result()
	if err != nil {
		return FetchState{}, fmt.Errorf("failed to read state for %s: %w", code, err)
	}
	raw, ok := vals["last_date"]
	if !ok {
		return FetchState{}, ErrNotFound
	}
	d, err := model.ParseDate(raw)
	if err != nil {
		return FetchState{}, fmt.Errorf("corrupt last_date for %s: %w", code, err)
	}
	u, _ := time.Parse(time.RFC3339, vals["updated_at"])
	return FetchState{Code: code, LastDate: d, UpdatedAt: u}, nil
}

func (r *Redis) Advance(ctx context.Context, code string, date time.Time) error {
	err := advanceScript.Run(ctx, r.client, []string{r.key(code)},
		model.Day(date).Format(model.DateLayout), time.Now().UTC().Format(time.RFC3339),
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to advance state for %s: %w", code, err)
	}
	return nil
}

func (r *Redis) AdvanceMany(ctx context.Context, updates map[string]time.Time) map[string]error {
	return advanceEach(ctx, r, updates)
}

func (r *Redis) Close() error {
	return r.client.Close()
}
