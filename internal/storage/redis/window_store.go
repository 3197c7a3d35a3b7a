package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/NargusS/tiltpay-backend/internal/storage"
)

// tryRecordScript purges, counts and conditionally adds in one server-side step.
// KEYS[1] set; ARGV now, windowStart, max, member, ttlMs.
// Returns {count, recorded, oldest}.
var tryRecordScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[2])
local count = redis.call('ZCARD', KEYS[1])
local recorded = 0
if count < tonumber(ARGV[3]) then
	redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
	redis.call('PEXPIRE', KEYS[1], ARGV[5])
	count = count + 1
	recorded = 1
end
local oldest = 0
local first = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
if #first == 2 then
	oldest = tonumber(first[2])
end
return {count, recorded, oldest}
`)

// WindowStore implements storage.WindowStore as a sorted set scored by unix millis.
// Members are random ids so that calls within the same millisecond are kept apart.
type WindowStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewWindowStore creates a WindowStore. ttl bounds the lifetime of the set when
// the process stops calling; it should exceed the limiter window.
func NewWindowStore(client *redis.Client, prefix string, ttl time.Duration) *WindowStore {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &WindowStore{
		client: client,
		key:    key(prefix, "rpc_requests"),
		ttl:    ttl,
	}
}

// Compile-time interface check.
var _ storage.WindowStore = (*WindowStore)(nil)

// TryRecord runs the purge, count and conditional insert as one Lua script.
func (s *WindowStore) TryRecord(ctx context.Context, nowMs, windowStartMs int64, maxCalls int) (int, int64, bool, error) {
	res, err := tryRecordScript.Run(ctx, s.client, []string{s.key},
		nowMs, windowStartMs, maxCalls, uuid.NewString(), s.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return 0, 0, false, fmt.Errorf("redis try record: %w", err)
	}
	if len(res) != 3 {
		return 0, 0, false, fmt.Errorf("redis try record: unexpected reply %v", res)
	}
	return int(res[0]), res[2], res[1] == 1, nil
}
