package query

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SlotCache keeps the latest SlotView per slot in Redis. A nil client turns
// every call into a miss, so the service runs without Redis.
type SlotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSlotCache(rdb *redis.Client, ttl time.Duration) *SlotCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SlotCache{rdb: rdb, ttl: ttl}
}

func slotCacheKey(id uuid.UUID) string { return "tm:slot:" + id.String() }

// Get returns the cached view; ok is false on a miss or when Redis is absent.
func (c *SlotCache) Get(ctx context.Context, id uuid.UUID) (SlotView, bool, error) {
	if c == nil || c.rdb == nil {
		return SlotView{}, false, nil
	}
	data, err := c.rdb.Get(ctx, slotCacheKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return SlotView{}, false, nil
	}
	if err != nil {
		return SlotView{}, false, err
	}
	var v SlotView
	if err := json.Unmarshal(data, &v); err != nil {
		return SlotView{}, false, err
	}
	return v, true, nil
}

// Put stores v unless the cache already holds a newer version of the slot.
func (c *SlotCache) Put(ctx context.Context, v SlotView) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return putIfNewer.Run(ctx, c.rdb, []string{slotCacheKey(v.SlotID)},
		data, v.AsOfSequence, c.ttl.Milliseconds()).Err()
}

// putIfNewer compares as_of_sequence so a late projection never overwrites a
// fresher view written by a query-side fill.
var putIfNewer = redis.NewScript(`
	local current = redis.call('GET', KEYS[1])
	if current then
		local ok, decoded = pcall(cjson.decode, current)
		if ok and tonumber(decoded['as_of_sequence']) > tonumber(ARGV[2]) then
			return 0
		end
	end
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
	return 1
`)
