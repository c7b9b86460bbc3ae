package properties

import (
	"testing"
	"time"
)

func TestMatchExact(t *testing.T) {
	props := map[string]Value{"plan": ValueOf("Pro")}
	f := Filter{Key: "plan", Operator: OpExact, Value: "pro", Type: TypePerson}
	ok, err := Match(f, props, nil, nil, time.Now())
	if err != nil || !ok {
		t.Fatalf("expected case-insensitive exact match, got %v err %v", ok, err)
	}
}

func TestMatchIsNotSetMissing(t *testing.T) {
	f := Filter{Key: "missing", Operator: OpIsNotSet}
	ok, err := Match(f, map[string]Value{}, nil, nil, time.Now())
	if err != nil || !ok {
		t.Fatalf("is_not_set should match absent key")
	}
}

func TestMatchNegation(t *testing.T) {
	props := map[string]Value{"email": ValueOf("excluded.user@example.com")}
	f := Filter{Key: "email", Operator: OpIContains, Value: "excluded.user@example.com", Negation: true}
	ok, err := Match(f, props, nil, nil, time.Now())
	if err != nil || ok {
		t.Fatalf("expected negated icontains to exclude match")
	}
}

func TestMatchRegexMalformedIsFalse(t *testing.T) {
	props := map[string]Value{"email": ValueOf("a@b.com")}
	f := Filter{Key: "email", Operator: OpRegex, Value: "(["}
	ok, err := Match(f, props, nil, nil, time.Now())
	if err != nil {
		t.Fatalf("malformed regex should not error: %v", err)
	}
	if ok {
		t.Fatalf("malformed regex should not match")
	}
}

func TestMatchNumericGroupKeyParity(t *testing.T) {
	propsStr := map[string]Value{"id": ValueOf("123")}
	propsNum := map[string]Value{"id": ValueOf(float64(123))}
	f := Filter{Key: "id", Operator: OpExact, Value: "123"}

	ok1, _ := Match(f, propsStr, nil, nil, time.Now())
	ok2, _ := Match(f, propsNum, nil, nil, time.Now())
	if !ok1 || !ok2 {
		t.Fatalf("numeric and string forms should match identically: %v %v", ok1, ok2)
	}
}

func TestMatchDateAfterRelative(t *testing.T) {
	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	props := map[string]Value{"created_at": ValueOf("2024-01-05T00:00:00Z")}
	f := Filter{Key: "created_at", Operator: OpIsDateAfter, Value: "-7d"}
	ok, err := Match(f, props, nil, nil, now)
	if err != nil || !ok {
		t.Fatalf("expected created_at after now-7d, got %v err %v", ok, err)
	}
}

type stubFlagResults map[string]string

func (s stubFlagResults) Result(flagKey string) (string, bool) {
	v, ok := s[flagKey]
	return v, ok
}

func TestMatchFlagEvaluatesToBooleanTrue(t *testing.T) {
	results := stubFlagResults{"B": "true"}
	f := Filter{Key: "B", Operator: OpFlagEvaluatesTo, Value: true, Type: TypeFlag}
	ok, err := Match(f, nil, nil, results, time.Now())
	if err != nil || !ok {
		t.Fatalf("value:true should match an enabled flag, got %v err %v", ok, err)
	}
}

func TestMatchFlagEvaluatesToBooleanFalseMatchesDisabled(t *testing.T) {
	results := stubFlagResults{"B": "false"}
	f := Filter{Key: "B", Operator: OpFlagEvaluatesTo, Value: false, Type: TypeFlag}
	ok, err := Match(f, nil, nil, results, time.Now())
	if err != nil || !ok {
		t.Fatalf("value:false should match a disabled flag, got %v err %v", ok, err)
	}
}

func TestMatchFlagEvaluatesToBooleanFalseExcludesEnabled(t *testing.T) {
	results := stubFlagResults{"B": "true"}
	f := Filter{Key: "B", Operator: OpFlagEvaluatesTo, Value: false, Type: TypeFlag}
	ok, err := Match(f, nil, nil, results, time.Now())
	if err != nil || ok {
		t.Fatalf("value:false should not match an enabled flag, got %v err %v", ok, err)
	}
}

func TestMatchFlagEvaluatesToVariantKey(t *testing.T) {
	results := stubFlagResults{"B": "some-variant"}
	f := Filter{Key: "B", Operator: OpFlagEvaluatesTo, Value: "some-variant", Type: TypeFlag}
	ok, err := Match(f, nil, nil, results, time.Now())
	if err != nil || !ok {
		t.Fatalf("value:\"some-variant\" should match when B evaluates to that variant, got %v err %v", ok, err)
	}

	f.Value = "other-variant"
	ok, err = Match(f, nil, nil, results, time.Now())
	if err != nil || ok {
		t.Fatalf("value:\"other-variant\" should not match when B evaluates to \"some-variant\", got %v err %v", ok, err)
	}
}
