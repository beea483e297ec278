package tiercache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/unkn0wn-root/tiercache/codec"
	"github.com/unkn0wn-root/tiercache/tier"
)

func TestCacheDirCandidatesOrder(t *testing.T) {
	cands := cacheDirCandidates("/configured/path")
	if len(cands) < 3 {
		t.Fatalf("too few candidates: %v", cands)
	}
	if cands[0] != "/configured/path" {
		t.Fatalf("configured path must come first, got %v", cands)
	}
	if cands[1] != filepath.Join(os.TempDir(), "tiercache") {
		t.Fatalf("second candidate = %q", cands[1])
	}

	// Without a configured path the temp candidates lead.
	cands = cacheDirCandidates("")
	if cands[0] != filepath.Join(os.TempDir(), "tiercache") {
		t.Fatalf("first candidate without config = %q", cands[0])
	}
}

func TestProvisionDirCreatesNested(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b", "cache")
	if err := provisionDir(dir); err != nil {
		t.Fatalf("provisionDir: %v", err)
	}
	if err := writable(dir); err != nil {
		t.Fatalf("provisioned dir not writable: %v", err)
	}
}

func TestProvisionCacheDirFallsPastBadCandidate(t *testing.T) {
	// A path nested under a regular file can never become a directory, so
	// provisioning must move on to the temp candidates.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	configured := filepath.Join(blocker, "cache")

	dir, err := provisionCacheDir(configured)
	if err != nil {
		t.Fatalf("provisionCacheDir: %v", err)
	}
	if dir == configured {
		t.Fatal("provisioning claimed success on an impossible path")
	}
	if err := writable(dir); err != nil {
		t.Fatalf("fallback dir not writable: %v", err)
	}
}

// TestFilesystemOnlyLifecycle drives the public API against the real
// filesystem tier: write with a short TTL, watch the entry age out, and
// sweep the corpse.
func TestFilesystemOnlyLifecycle(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cc, err := New[user](Options[user]{
		Codec:     codec.JSON[user]{},
		CachePath: dir,
		Tiers:     []tier.ID{tier.Filesystem},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cc.Close(ctx)

	v := user{ID: "42", Name: "Deep Thought"}
	if ok, err := cc.Set(ctx, "user:42", v, time.Second); err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	if ok, err := cc.Set(ctx, "user:43", user{ID: "43"}, time.Second); err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	if ok, err := cc.Set(ctx, "keeper", user{ID: "k"}, 0); err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}

	if ids := cc.AvailableTiers(ctx); len(ids) != 1 || ids[0] != tier.Filesystem {
		t.Fatalf("AvailableTiers = %v, want [filesystem]", ids)
	}
	if h := cc.Health(ctx); len(h) != 1 || !h[tier.Filesystem] {
		t.Fatalf("Health = %v", h)
	}
	if got := cc.CachePath(); got != dir {
		t.Fatalf("CachePath = %q, want %q", got, dir)
	}

	got, ok, err := cc.Get(ctx, "user:42")
	if err != nil || !ok || got != v {
		t.Fatalf("Get before expiry: ok=%v err=%v got=%v", ok, err, got)
	}
	if id := cc.LastUsedTier(); id != tier.Filesystem {
		t.Fatalf("LastUsedTier = %q", id)
	}

	time.Sleep(1500 * time.Millisecond)

	// The read removes the dead user:42 entry; user:43 stays on disk for
	// Cleanup to find.
	if _, ok, err := cc.Get(ctx, "user:42"); err != nil || ok {
		t.Fatalf("Get after expiry: ok=%v err=%v", ok, err)
	}
	n, err := cc.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("Cleanup removed %d entries, want 1", n)
	}
	if got, ok, _ := cc.Get(ctx, "keeper"); !ok || got.ID != "k" {
		t.Fatalf("keeper lost: ok=%v got=%v", ok, got)
	}
}

func TestCollaboratorJoinsAfterBuiltins(t *testing.T) {
	ctx := context.Background()
	sidecar := newFakeTier("sidecar")
	cc, err := New[user](Options[user]{
		Codec:     codec.JSON[user]{},
		CachePath: t.TempDir(),
		Tiers:     []tier.ID{tier.Filesystem},
		Extra:     []tier.Tier{sidecar},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cc.Close(ctx)

	ids := cc.AvailableTiers(ctx)
	if len(ids) != 2 || ids[0] != tier.Filesystem || ids[1] != "sidecar" {
		t.Fatalf("AvailableTiers = %v, want [filesystem sidecar]", ids)
	}

	// A value only the collaborator holds is served and promoted into the
	// built-in above it.
	v := user{ID: "77", Name: "Side"}
	sidecar.seed("k", encUser(t, v))
	got, ok, err := cc.Get(ctx, "k")
	if err != nil || !ok || got != v {
		t.Fatalf("Get: ok=%v err=%v got=%v", ok, err, got)
	}
	if id := cc.LastUsedTier(); id != "sidecar" {
		t.Fatalf("LastUsedTier = %q, want sidecar", id)
	}
	got, ok, err = cc.Get(ctx, "k")
	if err != nil || !ok || got != v {
		t.Fatalf("Get after promotion: ok=%v err=%v got=%v", ok, err, got)
	}
	if id := cc.LastUsedTier(); id != tier.Filesystem {
		t.Fatalf("LastUsedTier = %q, want filesystem after promotion", id)
	}
}
