package properties

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// Operator is the closed set of property-filter operators the matcher
// understands. Unknown operators never match.
type Operator string

const (
	OpExact          Operator = "exact"
	OpIsNot          Operator = "is_not"
	OpIContains      Operator = "icontains"
	OpNotIContains   Operator = "not_icontains"
	OpRegex          Operator = "regex"
	OpNotRegex       Operator = "not_regex"
	OpGT             Operator = "gt"
	OpGTE            Operator = "gte"
	OpLT             Operator = "lt"
	OpLTE            Operator = "lte"
	OpIsSet          Operator = "is_set"
	OpIsNotSet       Operator = "is_not_set"
	OpIsDateExact    Operator = "is_date_exact"
	OpIsDateAfter    Operator = "is_date_after"
	OpIsDateBefore   Operator = "is_date_before"
	OpFlagEvaluatesTo Operator = "flag_evaluates_to"
	OpIn             Operator = "in"
)

// FilterType distinguishes what a filter's key resolves against.
type FilterType string

const (
	TypePerson FilterType = "person"
	TypeGroup  FilterType = "group"
	TypeCohort FilterType = "cohort"
	TypeFlag   FilterType = "flag"
)

// Filter is a single property condition, per spec §4.3.
type Filter struct {
	Key             string
	Value           any
	Operator        Operator
	Type            FilterType
	GroupTypeIndex  *int
	Negation        bool
}

// CohortMatcher resolves `in` filters by delegating to the cohort resolver.
// Implemented by internal/cohorts to avoid an import cycle.
type CohortMatcher interface {
	MatchesCohort(cohortID string, props map[string]Value) (bool, error)
}

// FlagResults exposes already-computed flag results for flag_evaluates_to.
type FlagResults interface {
	// Result returns (value, ok). value is "true", "false", or a variant key.
	Result(flagKey string) (string, bool)
}

var regexCache sync.Map // string -> *regexp.Regexp

func compileRegex(pattern string) (*regexp.Regexp, bool) {
	if cached, ok := regexCache.Load(pattern); ok {
		re, ok := cached.(*regexp.Regexp)
		return re, ok
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		regexCache.Store(pattern, (*regexp.Regexp)(nil))
		return nil, false
	}
	regexCache.Store(pattern, re)
	return re, true
}

// Match evaluates f against props (properties already resolved for this
// filter's type — caller is responsible for routing person/group/cohort/flag
// filters to the right property set). now is used for relative date parsing.
func Match(f Filter, props map[string]Value, cohorts CohortMatcher, flags FlagResults, now time.Time) (bool, error) {
	result, err := matchRaw(f, props, cohorts, flags, now)
	if err != nil {
		return false, err
	}
	if f.Negation {
		return !result, nil
	}
	return result, nil
}

func matchRaw(f Filter, props map[string]Value, cohorts CohortMatcher, flags FlagResults, now time.Time) (bool, error) {
	switch f.Operator {
	case OpIsSet:
		v, ok := props[f.Key]
		return ok && !v.IsNull(), nil
	case OpIsNotSet:
		v, ok := props[f.Key]
		return !ok || v.IsNull(), nil
	}

	v, present := props[f.Key]

	switch f.Operator {
	case OpExact, OpIsNot:
		if !present {
			return false, nil
		}
		eq := valueEquals(v, f.Value)
		if f.Operator == OpIsNot {
			return !eq, nil
		}
		return eq, nil

	case OpIContains, OpNotIContains:
		if !present {
			return false, nil
		}
		s, ok := v.String()
		target, tOK := ValueOf(f.Value).String()
		contains := ok && tOK && strings.Contains(strings.ToLower(s), strings.ToLower(target))
		if f.Operator == OpNotIContains {
			return !contains, nil
		}
		return contains, nil

	case OpRegex, OpNotRegex:
		if !present {
			return false, nil
		}
		s, ok := v.String()
		pattern, pOK := ValueOf(f.Value).String()
		if !ok || !pOK {
			return false, nil
		}
		re, compiled := compileRegex(pattern)
		matched := compiled && re.MatchString(s)
		if f.Operator == OpNotRegex {
			return !matched, nil
		}
		return matched, nil

	case OpGT, OpGTE, OpLT, OpLTE:
		if !present {
			return false, nil
		}
		return compareOrdered(v, ValueOf(f.Value), f.Operator), nil

	case OpIsDateExact, OpIsDateAfter, OpIsDateBefore:
		if !present {
			return false, nil
		}
		left, lok := v.String()
		right, rok := ValueOf(f.Value).String()
		if !lok || !rok {
			return false, nil
		}
		lt, lok2 := parseTolerant(left, now)
		rt, rok2 := parseTolerant(right, now)
		if !lok2 || !rok2 {
			return false, nil
		}
		switch f.Operator {
		case OpIsDateExact:
			return lt.Equal(rt), nil
		case OpIsDateAfter:
			return lt.After(rt), nil
		default:
			return lt.Before(rt), nil
		}

	case OpFlagEvaluatesTo:
		if flags == nil {
			return false, nil
		}
		result, ok := flags.Result(f.Key)
		if !ok {
			return false, nil
		}
		if b, bOK := f.Value.(bool); bOK && !b {
			return result == "false", nil
		}
		if s, sOK := ValueOf(f.Value).String(); sOK && s != "true" && s != "false" {
			return result == s, nil
		}
		return result != "false", nil

	case OpIn:
		if cohorts == nil {
			return false, nil
		}
		cohortID, ok := ValueOf(f.Value).String()
		if !ok {
			return false, nil
		}
		return cohorts.MatchesCohort(cohortID, props)
	}

	return false, nil
}

func valueEquals(a Value, rawB any) bool {
	b := ValueOf(rawB)

	if slice, ok := b.Slice(); ok {
		for _, item := range slice {
			if valueEquals(a, item.Raw()) {
				return true
			}
		}
		return false
	}

	af, aok := a.Float64()
	bf, bok := b.Float64()
	if aok && bok {
		return af == bf
	}

	as, asok := a.String()
	bs, bsok := b.String()
	if asok && bsok {
		return strings.EqualFold(as, bs)
	}
	return false
}

func compareOrdered(a, b Value, op Operator) bool {
	af, aok := a.Float64()
	bf, bok := b.Float64()
	if aok && bok {
		return compareFloats(af, bf, op)
	}
	as, asok := a.String()
	bs, bsok := b.String()
	if asok && bsok {
		return compareStrings(as, bs, op)
	}
	return false
}

func compareFloats(a, b float64, op Operator) bool {
	switch op {
	case OpGT:
		return a > b
	case OpGTE:
		return a >= b
	case OpLT:
		return a < b
	default:
		return a <= b
	}
}

func compareStrings(a, b string, op Operator) bool {
	switch op {
	case OpGT:
		return a > b
	case OpGTE:
		return a >= b
	case OpLT:
		return a < b
	default:
		return a <= b
	}
}
