// Package redis implements run claim leases on Redis.
package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukex/aide/pkg/persistence"
)

// A claim is the key {prefix}claim:{run} holding the owner with a PX expiry.
// The sorted set {prefix}claims scores runs by deadline in unix millis and
// the hash {prefix}claim_owners remembers the owner after the key expired,
// so the reaper can still find abandoned runs.
var (
	acquireScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and cur ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
redis.call('HSET', KEYS[3], ARGV[4], ARGV[1])
return 1
`)

	renewScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
	return 0
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
return 1
`)

	releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('DEL', KEYS[1])
end
if redis.call('HGET', KEYS[3], ARGV[2]) == ARGV[1] then
	redis.call('ZREM', KEYS[2], ARGV[2])
	redis.call('HDEL', KEYS[3], ARGV[2])
end
return 1
`)
)

type ClaimStore struct {
	client *redis.Client
	prefix string
}

func NewClaimStore(client *redis.Client, prefix string) *ClaimStore {
	return &ClaimStore{client: client, prefix: prefix}
}

// NewClaimStoreFromURL parses a redis:// URL.
func NewClaimStoreFromURL(url, prefix string) (*ClaimStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	return NewClaimStore(redis.NewClient(opts), prefix), nil
}

func (s *ClaimStore) keys(runID string) []string {
	return []string{s.prefix + "claim:" + runID, s.prefix + "claims", s.prefix + "claim_owners"}
}

func (s *ClaimStore) Acquire(ctx context.Context, runID, owner string, ttl time.Duration) (*persistence.Claim, error) {
	expires := time.Now().Add(ttl)

	ok, err := acquireScript.Run(ctx, s.client, s.keys(runID), owner, ttl.Milliseconds(), expires.UnixMilli(), runID).Int()
	if err != nil {
		return nil, persistence.NewStoreError("AcquireClaim", runID, err)
	}

	if ok == 0 {
		return nil, persistence.NewStoreError("AcquireClaim", runID, persistence.ErrClaimHeld)
	}

	return &persistence.Claim{RunID: runID, Owner: owner, ExpiresAt: expires}, nil
}

func (s *ClaimStore) Renew(ctx context.Context, runID, owner string, ttl time.Duration) (*persistence.Claim, error) {
	expires := time.Now().Add(ttl)

	ok, err := renewScript.Run(ctx, s.client, s.keys(runID), owner, ttl.Milliseconds(), expires.UnixMilli(), runID).Int()
	if err != nil {
		return nil, persistence.NewStoreError("RenewClaim", runID, err)
	}

	if ok == 0 {
		return nil, persistence.NewStoreError("RenewClaim", runID, persistence.ErrClaimLost)
	}

	return &persistence.Claim{RunID: runID, Owner: owner, ExpiresAt: expires}, nil
}

func (s *ClaimStore) Release(ctx context.Context, runID, owner string) error {
	if err := releaseScript.Run(ctx, s.client, s.keys(runID), owner, runID).Err(); err != nil {
		return persistence.NewStoreError("ReleaseClaim", runID, err)
	}

	return nil
}

func (s *ClaimStore) Expired(ctx context.Context, now time.Time) ([]persistence.Claim, error) {
	keys := s.keys("")

	members, err := s.client.ZRangeByScoreWithScores(ctx, keys[1], &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, persistence.NewStoreError("ExpiredClaims", "", err)
	}

	if len(members) == 0 {
		return nil, nil
	}

	runIDs := make([]string, len(members))
	for i, m := range members {
		runIDs[i], _ = m.Member.(string)
	}

	owners, err := s.client.HMGet(ctx, keys[2], runIDs...).Result()
	if err != nil {
		return nil, persistence.NewStoreError("ExpiredClaims", "", err)
	}

	out := make([]persistence.Claim, len(members))
	for i, m := range members {
		owner, _ := owners[i].(string)
		out[i] = persistence.Claim{RunID: runIDs[i], Owner: owner, ExpiresAt: time.UnixMilli(int64(m.Score)).UTC()}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })

	return out, nil
}

func (s *ClaimStore) Close() error {
	return s.client.Close()
}
