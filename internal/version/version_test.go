package version

import (
	"runtime"
	"testing"
)

func TestInfo(t *testing.T) {
	info := Info()
	if info.Version != Version || info.Commit != Commit {
		t.Errorf("Info() = %+v, want version %q commit %q", info, Version, Commit)
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("GoVersion = %q, want %q", info.GoVersion, runtime.Version())
	}
	if got, want := String(), "dev (unknown) built unknown"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
