package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"miqaatsync/internal/model"
)

// Redis wraps the redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// MemberCache caches per-miqaat eligible member lists so cache refreshes
// from a hall full of marking devices don't hammer Postgres.
type MemberCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMemberCache builds a cache with the given TTL (default 5m).
func NewMemberCache(client *redis.Client, ttl time.Duration) *MemberCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemberCache{client: client, ttl: ttl}
}

func (c *MemberCache) key(miqaatID string) string {
	return "miqaat:" + miqaatID + ":members"
}

// Get returns the cached list, or nil on miss. Cache errors degrade to a
// miss; the caller falls through to Postgres.
func (c *MemberCache) Get(ctx context.Context, miqaatID string) []model.Member {
	if c == nil || c.client == nil {
		return nil
	}
	data, err := c.client.Get(ctx, c.key(miqaatID)).Bytes()
	if err != nil {
		return nil
	}
	var members []model.Member
	if err := json.Unmarshal(data, &members); err != nil {
		return nil
	}
	return members
}

// Put stores the list; failures are ignored, the cache is best-effort.
func (c *MemberCache) Put(ctx context.Context, miqaatID string, members []model.Member) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(members)
	if err != nil {
		return
	}
	c.client.Set(ctx, c.key(miqaatID), data, c.ttl)
}

// Invalidate drops the cached list for a miqaat.
func (c *MemberCache) Invalidate(ctx context.Context, miqaatID string) {
	if c == nil || c.client == nil {
		return
	}
	c.client.Del(ctx, c.key(miqaatID))
}
