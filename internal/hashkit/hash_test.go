package hashkit

import "testing"

func TestCalculateReferenceVectors(t *testing.T) {
	cases := []struct {
		identifier string
		want       float64
	}{
		{"some_distinct_id", 0.7270002403585725},
		{"test-identifier", 0.4493881716040236},
		{"example_id", 0.9402003475831224},
		{"example_id2", 0.6292740389966519},
	}

	const epsilon = 1e-9
	for _, tc := range cases {
		got := Calculate("holdout-", tc.identifier, "")
		diff := got - tc.want
		if diff < 0 {
			diff = -diff
		}
		if diff > epsilon {
			t.Errorf("Calculate(holdout-, %q, \"\") = %v, want %v", tc.identifier, got, tc.want)
		}
	}
}

func TestCalculateDeterministic(t *testing.T) {
	a := Calculate("", "user-1", "flag.")
	b := Calculate("", "user-1", "flag.")
	if a != b {
		t.Fatalf("Calculate is not deterministic: %v != %v", a, b)
	}
}

func TestCalculateRangeAndDistinctness(t *testing.T) {
	v := Calculate("variant-", "abc", "my-flag")
	if v < 0 || v >= 1 {
		t.Fatalf("Calculate out of [0,1) range: %v", v)
	}
	if Calculate("", "a", "salt") == Calculate("", "b", "salt") {
		t.Fatalf("expected distinct identifiers to (almost always) hash differently")
	}
}
