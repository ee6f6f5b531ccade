package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/auth"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/watch"
)

func TestHashPasswordFromStdin(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("s3cret\n"))
	cmd.SetArgs([]string{"hash-password"})

	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	ok, err := auth.NewPasswordHasher().VerifyPassword("s3cret", strings.TrimSpace(out.String()))
	if err != nil || !ok {
		t.Fatalf("hash does not verify: ok=%v err=%v", ok, err)
	}
}

func TestTokenPrintsMatchingHash(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token"})

	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}

	fields := map[string]string{}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		k, v, _ := strings.Cut(line, ":")
		fields[k] = strings.TrimSpace(v)
	}
	if !strings.HasPrefix(fields["token"], "opw_") {
		t.Fatalf("token = %q", fields["token"])
	}
	if got := auth.HashAPIToken(fields["token"]); got != fields["token_hash"] {
		t.Errorf("hash = %q, want %q", fields["token_hash"], got)
	}
}

func TestFilterEntries(t *testing.T) {
	entries := []watch.Entry{{Name: "A"}, {Name: "B"}, {Name: "C"}}
	got := filterEntries(entries, []string{"C", "A"})
	if diff := cmp.Diff([]watch.Entry{{Name: "A"}, {Name: "C"}}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}
