package pgstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TimurManjosov/goflagship/internal/cohorts"
)

const cohortQuery = `
SELECT id, is_static, filters
FROM posthog_cohort
WHERE team_id = $1 AND id = $2 AND deleted = false
`

const staticCohortPeopleQuery = `
SELECT person_id
FROM posthog_cohortpeople
WHERE cohort_id = $1
`

// LoadCohort implements cohorts.Store against the follower database.
func (s *Store) LoadCohort(ctx context.Context, teamID int64, cohortID string) (cohorts.Cohort, error) {
	row := s.pool.QueryRow(ctx, cohortQuery, teamID, cohortID)

	var (
		id         string
		isStatic   bool
		rawFilters []byte
	)
	if err := row.Scan(&id, &isStatic, &rawFilters); err != nil {
		return cohorts.Cohort{}, fmt.Errorf("pgstore: load cohort: %w", err)
	}

	c := cohorts.Cohort{ID: id, TeamID: teamID, IsStatic: isStatic}

	if isStatic {
		rows, err := s.pool.Query(ctx, staticCohortPeopleQuery, cohortID)
		if err != nil {
			return cohorts.Cohort{}, fmt.Errorf("pgstore: load static cohort members: %w", err)
		}
		defer rows.Close()
		c.StaticIDs = make(map[string]bool)
		for rows.Next() {
			var personID string
			if err := rows.Scan(&personID); err != nil {
				return cohorts.Cohort{}, fmt.Errorf("pgstore: scan cohort member: %w", err)
			}
			c.StaticIDs[personID] = true
		}
		return c, rows.Err()
	}

	var node cohorts.Node
	if len(rawFilters) > 0 {
		if err := json.Unmarshal(rawFilters, &node); err != nil {
			return cohorts.Cohort{}, fmt.Errorf("pgstore: unmarshal cohort predicate: %w", err)
		}
	}
	c.Predicate = &node
	return c, nil
}
