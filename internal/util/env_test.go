package util

import "testing"

func TestBoolEnv(t *testing.T) {
	cases := []struct {
		value    string
		fallback bool
		want     bool
	}{
		{"true", false, true},
		{"YES", false, true},
		{" on ", false, true},
		{"1", false, true},
		{"false", true, false},
		{"Off", true, false},
		{"0", true, false},
		{"", true, true},
		{"", false, false},
		{"maybe", true, true},
		{"maybe", false, false},
	}
	for _, c := range cases {
		t.Setenv("MODFLOW_TEST_BOOL", c.value)
		if got := BoolEnv("MODFLOW_TEST_BOOL", c.fallback); got != c.want {
			t.Errorf("BoolEnv(%q, %v) = %v, want %v", c.value, c.fallback, got, c.want)
		}
	}
}
