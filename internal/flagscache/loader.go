// Package flagscache implements the Flag State Loader: a read-through cache
// (Redis primary, Postgres follower fallback) of the active flag set for a
// project, per spec §4.6.
package flagscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/TimurManjosov/goflagship/internal/flags"
)

// Mode selects how the dedicated-vs-shared Redis split behaves.
type Mode int

const (
	ModeSharedOnly Mode = iota
	ModeDualWrite
	ModeDedicatedOnly
)

// RedisClient is the subset of *redis.Client the loader needs; satisfied
// directly by *redis.Client so production wiring needs no adapter.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// DBLoader reads the active flag set from the follower database on a cache miss.
type DBLoader interface {
	LoadActiveFlags(ctx context.Context, projectID int64) ([]flags.Flag, error)
}

const negativeMarker = "__negative__"

// Loader is the read-through Flag State Loader.
type Loader struct {
	shared    RedisClient
	dedicated RedisClient
	mode      Mode
	db        DBLoader
	ttl       time.Duration
	negTTL    time.Duration

	// OnResult, if set, is called with "hit" or "negative" when the first
	// cache read serves GetOrLoad, and with "miss" before each database
	// load, for the caller's own metrics (avoids a dependency from this
	// package onto internal/telemetry). A call that joins another call's
	// in-flight load, or that finds the cache filled on its second read,
	// reports nothing.
	OnResult func(result string)

	group singleflight.Group
}

// New builds a Loader. dedicated may be nil when mode is ModeSharedOnly.
func New(shared, dedicated RedisClient, mode Mode, db DBLoader, ttl time.Duration) *Loader {
	return &Loader{
		shared: shared, dedicated: dedicated, mode: mode, db: db,
		ttl: ttl, negTTL: ttl / 10,
	}
}

func (l *Loader) report(result string) {
	if l.OnResult != nil {
		l.OnResult(result)
	}
}

func flagListKey(projectID int64) string {
	return fmt.Sprintf("posthog:1:team_feature_flags_%d", projectID)
}

// GetOrLoad implements §4.6: primary Redis read, DB fallback on miss, negative
// caching on not-found, single-flight around the miss path.
func (l *Loader) GetOrLoad(ctx context.Context, projectID int64) (flags.List, bool, error) {
	key := flagListKey(projectID)

	if list, ok, isNeg := l.readCache(ctx, key); ok {
		if isNeg {
			l.report("negative")
			return flags.List{}, true, nil
		}
		l.report("hit")
		return list, true, nil
	}

	v, err, _ := l.group.Do(key, func() (any, error) {
		if list, ok, isNeg := l.readCache(ctx, key); ok {
			if isNeg {
				return flags.List{}, nil
			}
			return list, nil
		}
		l.report("miss")

		dbFlags, err := l.db.LoadActiveFlags(ctx, projectID)
		if err != nil {
			if errors.Is(err, errFlagsNotFound) {
				l.writeCache(ctx, key, []byte(negativeMarker), l.negTTL)
				return flags.List{}, nil
			}
			return flags.List{}, err
		}

		list := flags.List{Flags: dbFlags}
		payload, mErr := json.Marshal(dbFlags)
		if mErr == nil {
			l.writeCache(ctx, key, payload, l.ttl)
		}
		return list, nil
	})
	if err != nil {
		return flags.List{}, false, err
	}
	return v.(flags.List), false, nil
}

// errFlagsNotFound is returned by a DBLoader to indicate the project genuinely
// has no active flags (distinct from a transient DB error).
var errFlagsNotFound = errors.New("flagscache: no active flags for project")

func (l *Loader) readCache(ctx context.Context, key string) (flags.List, bool, bool) {
	client := l.readClient()
	if client == nil {
		return flags.List{}, false, false
	}
	raw, err := client.Get(ctx, key).Result()
	if err != nil {
		return flags.List{}, false, false
	}
	if raw == negativeMarker {
		return flags.List{}, true, true
	}
	var parsed []flags.Flag
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return flags.List{HadDeserializationErrors: true}, true, false
	}
	return flags.List{Flags: parsed}, true, false
}

func (l *Loader) readClient() RedisClient {
	switch l.mode {
	case ModeDedicatedOnly:
		return l.dedicated
	default:
		return l.shared
	}
}

func (l *Loader) writeCache(ctx context.Context, key string, payload []byte, ttl time.Duration) {
	if l.shared != nil {
		l.shared.Set(ctx, key, payload, ttl)
	}
	if l.mode != ModeSharedOnly && l.dedicated != nil {
		l.dedicated.Set(ctx, key, payload, ttl)
	}
}
