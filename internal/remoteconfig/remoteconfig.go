// Package remoteconfig implements the opaque remote SDK config passthrough
// of spec §4.11. The JSON blob content is owned by an external control
// plane; this package only caches and serves it, applying the documented
// fallback and quota-flag behavior on a cache miss.
package remoteconfig

import (
	"context"
	"encoding/json"
	"time"
)

// Store reads the team-scoped config blob, typically from a hypercache-style
// external cache.
type Store interface {
	GetConfig(ctx context.Context, teamToken string) (json.RawMessage, bool, error)
}

// QuotaChecker reports whether a team is currently quota-limited for a
// specific quota resource (e.g. "feature_flags", "recordings").
type QuotaChecker interface {
	IsQuotaLimited(ctx context.Context, teamToken, resource string) bool
}

var fallbackBlob = json.RawMessage(`{"recordings":false,"surveys":false,"heatmaps":false,"supportedCompression":["gzip","gzip-js"]}`)

// Resolver serves the remote config passthrough.
type Resolver struct {
	store Store
	quota QuotaChecker
}

func NewResolver(store Store, quota QuotaChecker) *Resolver {
	return &Resolver{store: store, quota: quota}
}

// Config returns the config blob to interleave into a flags response when
// the request carries config=true, per §4.11. Cache misses get the minimal
// fallback; quota flags (e.g. session-recording-limited) still apply.
func (r *Resolver) Config(ctx context.Context, teamToken string) (json.RawMessage, bool) {
	quotaLimited := r.quota != nil && r.quota.IsQuotaLimited(ctx, teamToken, "recordings")

	blob, ok, err := r.store.GetConfig(ctx, teamToken)
	if err != nil || !ok {
		return fallbackBlob, quotaLimited
	}
	return blob, quotaLimited
}
