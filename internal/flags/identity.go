package flags

import (
	"strconv"

	"github.com/TimurManjosov/goflagship/internal/properties"
)

// IdentifierType records which kind of identifier was resolved; the
// evaluator uses it to pick person or group DB properties. Grounded on
// original_source/rust/feature-flags/src/flags/identifier_resolution.rs.
type IdentifierType int

const (
	PersonDistinctID IdentifierType = iota
	GroupIdentifier
)

// IdentifierContext is the outcome of resolving which identifier to use for
// a flag's bucketing, given the flag's configuration and the request context.
type IdentifierContext struct {
	Identifier             string
	Type                   IdentifierType
	PropertyOverrides      map[string]properties.Value
	OriginalDistinctID     string
	OriginalGroupKey       *string
	OriginalGroupTypeIndex *int
}

// GroupTypeMapping resolves a project's group-type index to its name.
type GroupTypeMapping interface {
	TypeName(index int) (string, bool)
}

// ResolveIdentifier implements §4.2: group-based flags resolve to a group
// key; person-based flags resolve to distinct_id, optionally overridden by
// a hash-key override for experience continuity.
func ResolveIdentifier(
	flag Flag,
	distinctID string,
	groups map[string]any,
	personOverrides map[string]properties.Value,
	groupOverrides map[string]map[string]properties.Value,
	hashKeyOverrides map[string]string,
	groupTypes GroupTypeMapping,
) *IdentifierContext {
	if idx := flag.AggregationGroupTypeIndex(); idx != nil {
		typeName, ok := groupTypes.TypeName(*idx)
		if !ok {
			return nil // flag is unevaluable: no_group_type
		}

		rawKey, present := groups[typeName]
		identifier, originalKey := serializeGroupKey(rawKey, present)

		return &IdentifierContext{
			Identifier:             identifier,
			Type:                   GroupIdentifier,
			PropertyOverrides:      groupOverrides[typeName],
			OriginalDistinctID:     distinctID,
			OriginalGroupKey:       originalKey,
			OriginalGroupTypeIndex: idx,
		}
	}

	identifier := distinctID
	if flag.EnsureExperienceContinuity {
		if override, ok := hashKeyOverrides[flag.Key]; ok {
			identifier = override
		}
	}

	return &IdentifierContext{
		Identifier:         identifier,
		Type:               PersonDistinctID,
		PropertyOverrides:  personOverrides,
		OriginalDistinctID: distinctID,
	}
}

// serializeGroupKey stringifies numbers, passes through strings, and falls
// back to empty string for anything else (or absence) to preserve historical
// hash stability — per spec §3 and DESIGN NOTES.
func serializeGroupKey(raw any, present bool) (string, *string) {
	if !present {
		return "", nil
	}
	switch v := raw.(type) {
	case string:
		s := v
		return s, &s
	case float64:
		s := strconv.FormatFloat(v, 'f', -1, 64)
		return s, &s
	case int:
		s := strconv.Itoa(v)
		return s, &s
	case int64:
		s := strconv.FormatInt(v, 10)
		return s, &s
	default:
		return "", nil
	}
}
