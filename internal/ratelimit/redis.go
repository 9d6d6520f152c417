package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow trims the sorted set to the window, rejects at the ceiling and
// otherwise records the call. Scores are unix milliseconds.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if redis.call('ZCARD', key) >= limit then
	return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 1
`)

// Redis is a sliding-window-log limiter shared between server instances.
type Redis struct {
	client redis.Scripter
	rules  map[Action]Rule
	prefix string
	now    func() time.Time
}

// NewRedis creates a limiter on top of an existing client.
func NewRedis(client redis.Scripter, rules map[Action]Rule) *Redis {
	if rules == nil {
		rules = DefaultRules
	}
	return &Redis{
		client: client,
		rules:  rules,
		prefix: "songwall:ratelimit:",
		now:    time.Now,
	}
}

// DialRedis parses a redis:// URL and verifies the server is reachable.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// Allow implements Limiter.
func (r *Redis) Allow(ctx context.Context, action Action, key string) (bool, error) {
	rule, ok := r.rules[action]
	if !ok {
		return true, nil
	}

	now := r.now().UnixMilli()
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	allowed, err := slidingWindow.Run(ctx, r.client,
		[]string{r.prefix + string(action) + ":" + key},
		now, rule.Window.Milliseconds(), rule.Limit, member,
	).Int()
	if err != nil {
		return false, fmt.Errorf("running rate limit script: %w", err)
	}
	return allowed == 1, nil
}

var _ Limiter = (*Redis)(nil)
