package remoteconfig

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// RedisClient is the subset of *redis.Client this store needs; satisfied
// directly by *redis.Client.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// hypercacheKey mirrors the "team/config keys under a hypercache namespace"
// described in spec §6.
func hypercacheKey(teamToken string) string {
	return "posthog:1:remote_config_" + teamToken
}

func quotaKey(teamToken, resource string) string {
	return "posthog:1:quota_limited_" + resource + "_" + teamToken
}

// RedisStore implements Store and QuotaChecker against the shared Redis
// hypercache, falling back to Resolver's hardcoded blob on any miss or error.
type RedisStore struct {
	client RedisClient
}

func NewRedisStore(client RedisClient) *RedisStore { return &RedisStore{client: client} }

func (s *RedisStore) GetConfig(ctx context.Context, teamToken string) (json.RawMessage, bool, error) {
	raw, err := s.client.Get(ctx, hypercacheKey(teamToken)).Result()
	if err != nil || raw == "" {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, err
	}
	return json.RawMessage(raw), true, nil
}

func (s *RedisStore) IsQuotaLimited(ctx context.Context, teamToken, resource string) bool {
	raw, err := s.client.Get(ctx, quotaKey(teamToken, resource)).Result()
	return err == nil && raw == "1"
}
