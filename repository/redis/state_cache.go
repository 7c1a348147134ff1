package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redislib "github.com/redis/go-redis/v9"

	"github.com/promorang/maturity/domain"
	"github.com/promorang/maturity/repository"
)

// setIfNewer writes ARGV[1] unless the cached entry carries more actions,
// or the same count with a later stamp. Mirrors MaturityState.Supersedes.
var setIfNewer = redislib.NewScript(`
local current = redis.call('GET', KEYS[1])
if current then
	local ok, cached = pcall(cjson.decode, current)
	if ok and type(cached) == 'table' and cached.count ~= nil then
		local count = tonumber(ARGV[2])
		local stamp = tonumber(ARGV[3])
		if cached.count > count or (cached.count == count and (cached.stamp or 0) > stamp) then
			return 0
		end
	end
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[4])
return 1
`)

// cachedState is the stored envelope; count and stamp are readable from Lua.
type cachedState struct {
	Count int                  `json:"count"`
	Stamp int64                `json:"stamp"`
	State domain.MaturityState `json:"state"`
}

type stateCache struct {
	client redislib.Cmdable
	prefix string
	ttl    time.Duration
}

// NewStateCache caches maturity states for ttl. Writes never replace a
// newer entry, so concurrent request paths cannot roll the cache back.
func NewStateCache(client redislib.Cmdable, ttl time.Duration) repository.StateCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &stateCache{
		client: client,
		prefix: "maturity:state:",
		ttl:    ttl,
	}
}

func (c *stateCache) Get(ctx context.Context, userID string) (*domain.MaturityState, error) {
	raw, err := c.client.Get(ctx, c.prefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redislib.Nil) {
			return nil, domain.ErrStateNotFound
		}
		return nil, err
	}
	var entry cachedState
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	return &entry.State, nil
}

func (c *stateCache) Set(ctx context.Context, state *domain.MaturityState) error {
	if state == nil || state.UserID == "" {
		return domain.ErrInvalidPayload
	}
	entry := cachedState{
		Count: state.ActionsCount,
		Stamp: stamp(state.UpdatedAt),
		State: *state,
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return setIfNewer.Run(ctx, c.client, []string{c.prefix + state.UserID},
		payload, entry.Count, entry.Stamp, c.ttl.Milliseconds()).Err()
}

func (c *stateCache) Invalidate(ctx context.Context, userID string) error {
	return c.client.Del(ctx, c.prefix+userID).Err()
}

func stamp(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}
