// Package pgstore is a hand-rolled pgx query layer over the read-only
// follower database named in spec §6. It replaces the teacher's
// sqlc-generated internal/db/gen package, which depended on generated code
// that isn't present in this build (sqlc can't run without the Go
// toolchain); the query shapes below are grounded on the teacher's
// internal/store/postgres.go call sites and spec §6's named tables.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TimurManjosov/goflagship/internal/flags"
)

// Store is the read-only follower-DB query layer.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

const activeFlagsQuery = `
SELECT id, key, team_id, project_id, ensure_experience_continuity, version, filters
FROM posthog_featureflag
WHERE project_id = $1 AND active = true AND deleted = false
`

// LoadActiveFlags implements flagscache.DBLoader: active, non-deleted flags
// for a project.
func (s *Store) LoadActiveFlags(ctx context.Context, projectID int64) ([]flags.Flag, error) {
	rows, err := s.pool.Query(ctx, activeFlagsQuery, projectID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: query active flags: %w", err)
	}
	defer rows.Close()

	var out []flags.Flag
	for rows.Next() {
		var (
			f             flags.Flag
			continuity    bool
			rawFilters    []byte
		)
		if err := rows.Scan(&f.ID, &f.Key, &f.TeamID, &f.ProjectID, &continuity, &f.Version, &rawFilters); err != nil {
			return nil, fmt.Errorf("pgstore: scan flag row: %w", err)
		}
		f.EnsureExperienceContinuity = continuity
		f.Active = true
		if len(rawFilters) > 0 {
			if err := json.Unmarshal(rawFilters, &f.Filters); err != nil {
				continue // a flag whose filters fail to deserialize is skipped; the skip is not counted or reported
			}
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: iterate flag rows: %w", err)
	}
	return out, nil
}

const personPropertiesQuery = `
SELECT p.properties
FROM posthog_person p
JOIN posthog_persondistinctid pdi ON pdi.person_id = p.id
WHERE pdi.distinct_id = $1 AND pdi.team_id = $2
LIMIT 1
`

// LoadPersonProperties returns the raw JSON property blob for a distinct_id,
// used for the batched DB prefetch ahead of flag evaluation (§5).
func (s *Store) LoadPersonProperties(ctx context.Context, teamID int64, distinctID string) (map[string]any, error) {
	row := s.pool.QueryRow(ctx, personPropertiesQuery, distinctID, teamID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return nil, fmt.Errorf("pgstore: load person properties: %w", err)
	}
	var props map[string]any
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, fmt.Errorf("pgstore: unmarshal person properties: %w", err)
	}
	return props, nil
}

const groupPropertiesQuery = `
SELECT group_properties
FROM posthog_group
WHERE team_id = $1 AND group_type_index = $2 AND group_key = $3
LIMIT 1
`

// LoadGroupProperties returns the raw JSON property blob for a group.
func (s *Store) LoadGroupProperties(ctx context.Context, teamID int64, groupTypeIndex int, groupKey string) (map[string]any, error) {
	row := s.pool.QueryRow(ctx, groupPropertiesQuery, teamID, groupTypeIndex, groupKey)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return nil, fmt.Errorf("pgstore: load group properties: %w", err)
	}
	var props map[string]any
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, fmt.Errorf("pgstore: unmarshal group properties: %w", err)
	}
	return props, nil
}

const groupTypeMappingQuery = `
SELECT group_type, group_type_index
FROM posthog_grouptypemapping
WHERE project_id = $1
`

// LoadGroupTypeMapping returns the project's group-type index -> name map.
func (s *Store) LoadGroupTypeMapping(ctx context.Context, projectID int64) (map[int]string, error) {
	rows, err := s.pool.Query(ctx, groupTypeMappingQuery, projectID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: query group type mapping: %w", err)
	}
	defer rows.Close()

	out := make(map[int]string)
	for rows.Next() {
		var name string
		var idx int
		if err := rows.Scan(&name, &idx); err != nil {
			return nil, fmt.Errorf("pgstore: scan group type mapping row: %w", err)
		}
		out[idx] = name
	}
	return out, rows.Err()
}

const teamByTokenQuery = `
SELECT id, project_id
FROM posthog_team
WHERE api_token = $1
LIMIT 1
`

// ErrTeamNotFound is returned when a token doesn't resolve to a team.
var ErrTeamNotFound = fmt.Errorf("pgstore: no team for token")

// ResolveToken implements httpapi.TeamResolver: token -> (team_id, project_id).
func (s *Store) ResolveToken(ctx context.Context, token string) (teamID, projectID int64, err error) {
	row := s.pool.QueryRow(ctx, teamByTokenQuery, token)
	if err := row.Scan(&teamID, &projectID); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrTeamNotFound, err)
	}
	return teamID, projectID, nil
}

const hashKeyOverrideQuery = `
SELECT o.feature_flag_key, o.hash_key
FROM posthog_featureflaghashkeyoverride o
JOIN posthog_persondistinctid pdi ON pdi.person_id = o.person_id
WHERE o.team_id = $1 AND pdi.distinct_id = $2 AND pdi.team_id = $1
`

// LoadHashKeyOverrides returns the experience-continuity hash-key overrides
// for the person behind distinctID, keyed by flag key.
func (s *Store) LoadHashKeyOverrides(ctx context.Context, teamID int64, distinctID string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, hashKeyOverrideQuery, teamID, distinctID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: query hash key overrides: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, hashKey string
		if err := rows.Scan(&key, &hashKey); err != nil {
			return nil, fmt.Errorf("pgstore: scan hash key override row: %w", err)
		}
		out[key] = hashKey
	}
	return out, rows.Err()
}
