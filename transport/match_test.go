package transport

import "testing"

func TestMatchTopic(t *testing.T) {
	cases := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"a/b/c", "a/b/c", true},
		{"a/b/c", "a/b/d", false},
		{"a/b/c", "a/b", false},
		{"a/b", "a/b/c", false},
		{"a/+/c", "a/b/c", true},
		{"a/+/c", "a/x/c", true},
		{"a/+/c", "a/b/d", false},
		{"a/+/+", "a/b/c", true},
		{"+/b/c", "a/b/c", true},
		{"a/#", "a/b/c", true},
		{"a/#", "a", true},
		{"a/#", "b/c", false},
		{"#", "a/b/c", true},
		{"a/#/c", "a/b/c", false}, // "#" must be the final level
		{"vda5050/v2/acme/+/state", "vda5050/v2/acme/AGV_7/state", true},
		{"vda5050/v2/acme/+/state", "vda5050/v2/acme/AGV_7/connection", false},
		{"vda5050/v2/acme/AGV_7/state", "vda5050/v2/acme/AGV_7/state", true},
	}
	for _, tc := range cases {
		if got := MatchTopic(tc.filter, tc.topic); got != tc.want {
			t.Errorf("MatchTopic(%q, %q) = %v, want %v", tc.filter, tc.topic, got, tc.want)
		}
	}
}
