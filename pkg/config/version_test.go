package config

import (
	"runtime"
	"strings"
	"testing"
)

func TestGetBuildInfoUsesLinkerValues(t *testing.T) {
	oldVersion, oldCommit, oldTime := Version, Commit, BuildTime
	t.Cleanup(func() { Version, Commit, BuildTime = oldVersion, oldCommit, oldTime })

	Version, Commit, BuildTime = "v1.4.0", "abc123", "2026-10-01T00:00:00Z"
	info := GetBuildInfo()
	if info.Version != "v1.4.0" || info.Commit != "abc123" || info.BuildTime != "2026-10-01T00:00:00Z" {
		t.Errorf("GetBuildInfo() = %+v", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q", info.GoVersion)
	}

	s := VersionString("alertctl")
	if !strings.HasPrefix(s, "alertctl v1.4.0 (abc123") {
		t.Errorf("VersionString() = %q", s)
	}
}

func TestShortRevision(t *testing.T) {
	if got := shortRevision("0123456789abcdef0123"); got != "0123456789ab" {
		t.Errorf("shortRevision = %q", got)
	}
	if got := shortRevision("abc"); got != "abc" {
		t.Errorf("shortRevision = %q", got)
	}
}
