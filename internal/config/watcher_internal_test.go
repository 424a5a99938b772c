package config

import "testing"

func TestNewConfigAvailable_PrefersCandidateOverActive(t *testing.T) {
	cases := []struct {
		name    string
		localID string
		info    RemoteInfo
		want    bool
	}{
		{"matches candidate", "abc", RemoteInfo{CandidateConfigID: "abc", ActiveConfigID: "xyz"}, false},
		{"mismatches candidate", "abc", RemoteInfo{CandidateConfigID: "def"}, true},
		{"falls back to active when no candidate", "abc", RemoteInfo{ActiveConfigID: "abc"}, false},
		{"mismatches active, no candidate", "abc", RemoteInfo{ActiveConfigID: "def"}, true},
		{"neither set", "abc", RemoteInfo{}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := newConfigAvailable(c.localID, c.info)
			if got != c.want {
				t.Errorf("newConfigAvailable(%q, %+v) = %v, want %v", c.localID, c.info, got, c.want)
			}
		})
	}
}
