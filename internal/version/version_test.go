package version

import (
	"runtime/debug"
	"testing"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	stamp := func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{
			Main: debug.Module{Version: "(devel)"},
			Settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "0123456789abcdef0123"},
				{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
				{Key: "vcs.modified", Value: "true"},
			},
		}, true
	}
	none := func() (*debug.BuildInfo, bool) { return nil, false }

	tests := []struct {
		name string
		got  Info
		want string
	}{
		{"ldflags win", resolve("v1.2.0", "abc", "", stamp), "v1.2.0 (abc+dirty)"},
		{"vcs fallback", resolve("", "", "", stamp), "dev (0123456789ab+dirty)"},
		{"nothing", resolve("", "", "", none), "dev"},
	}
	for _, tc := range tests {
		if s := tc.got.String(); s != tc.want {
			t.Errorf("%s: got %q want %q", tc.name, s, tc.want)
		}
	}
	if got := resolve("", "", "", stamp).BuildTime; got != "2026-01-02T03:04:05Z" {
		t.Errorf("build time: got %q", got)
	}
}
