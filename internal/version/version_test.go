package version

import (
	"runtime/debug"
	"testing"
)

func TestResolveFallsBackToBuildInfo(t *testing.T) {
	t.Parallel()
	bi := &debug.BuildInfo{
		GoVersion: "go1.26.0",
		Main:      debug.Module{Version: "v0.3.1"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
		},
	}
	got := resolve(Info{}, bi)
	want := Info{Version: "v0.3.1", Commit: "0123456789abcdef0123", BuildTime: "2026-01-02T03:04:05Z", GoVersion: "go1.26.0"}
	if got != want {
		t.Fatalf("resolve = %+v, want %+v", got, want)
	}
}

func TestResolveLdflagsWin(t *testing.T) {
	t.Parallel()
	bi := &debug.BuildInfo{
		Main:     debug.Module{Version: "v0.3.1"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc"}},
	}
	got := resolve(Info{Version: "v1.0.0", Commit: "fff"}, bi)
	if got.Version != "v1.0.0" || got.Commit != "fff" {
		t.Fatalf("resolve = %+v", got)
	}
}

func TestResolveDevel(t *testing.T) {
	t.Parallel()
	got := resolve(Info{}, &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}})
	if got.Version != "dev" {
		t.Fatalf("version = %q, want dev", got.Version)
	}
	if got := resolve(Info{}, nil); got.Version != "dev" || got.GoVersion == "" {
		t.Fatalf("nil build info = %+v", got)
	}
}

func TestShortCommit(t *testing.T) {
	t.Parallel()
	if got := shortCommit("0123456789abcdef"); got != "0123456789ab" {
		t.Fatalf("shortCommit = %q", got)
	}
	if got := shortCommit("abc"); got != "abc" {
		t.Fatalf("shortCommit = %q", got)
	}
}
