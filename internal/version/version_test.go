package version

import (
	"strings"
	"testing"
)

func TestResolvePrefersLdflags(t *testing.T) {
	oldV, oldC := Version, Commit
	t.Cleanup(func() { Version, Commit = oldV, oldC })

	Version = "v1.4.0"
	Commit = "0123456789abcdef0123"

	info := Resolve()
	if info.Version != "v1.4.0" {
		t.Fatalf("Version = %q, want v1.4.0", info.Version)
	}
	if got := String(); !strings.HasPrefix(got, "v1.4.0+0123456789ab") {
		t.Fatalf("String() = %q", got)
	}
}

func TestResolveNeverEmpty(t *testing.T) {
	oldV := Version
	t.Cleanup(func() { Version = oldV })

	Version = ""
	if Resolve().Version == "" {
		t.Fatal("expected a fallback version")
	}
}

func TestShortCommit(t *testing.T) {
	t.Parallel()

	if got := shortCommit("abc"); got != "abc" {
		t.Fatalf("shortCommit(abc) = %q", got)
	}
	if got := shortCommit("0123456789abcdef"); got != "0123456789ab" {
		t.Fatalf("shortCommit = %q", got)
	}
}
