package tiercache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/unkn0wn-root/tiercache/tier"
	"github.com/unkn0wn-root/tiercache/tier/cluster"
	"github.com/unkn0wn-root/tiercache/tier/fscache"
	"github.com/unkn0wn-root/tiercache/tier/local"
	"github.com/unkn0wn-root/tiercache/tier/localalt"
	"github.com/unkn0wn-root/tiercache/tier/mmapcache"
	"github.com/unkn0wn-root/tiercache/tier/netkv"
	"github.com/unkn0wn-root/tiercache/tier/opcache"
	"github.com/unkn0wn-root/tiercache/tier/shm"
)

// registry owns tier construction and the one-shot discovery pass. Before
// discovery it accepts configuration (cache path, per-tier settings); after
// discovery the hierarchy is frozen and only Close changes it.
type registry struct {
	log   Logger
	hooks Hooks

	// fail records a discovery-level failure with the engine; probe
	// failures of individual tiers are not reported through it.
	fail func(error)

	once sync.Once

	mu       sync.Mutex
	done     bool
	cfgPath  string
	resolved string
	include  map[tier.ID]bool // nil means every built-in
	settings map[tier.ID]Settings
	extra    []tier.Tier
	avail    []tier.Tier
	health   map[tier.ID]bool
}

func newRegistry(log Logger, hooks Hooks) *registry {
	return &registry{
		log:      log,
		hooks:    hooks,
		settings: make(map[tier.ID]Settings),
	}
}

// setCachePath points discovery at a preferred cache directory. It reports
// false once discovery has run; the hierarchy cannot be re-homed live.
func (r *registry) setCachePath(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return false
	}
	r.cfgPath = path
	return true
}

// cachePath returns the directory file-backed tiers write under: the
// resolved one after discovery, the configured one before.
func (r *registry) cachePath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return r.resolved
	}
	return r.cfgPath
}

// configure stores settings for a built-in tier. Collaborator tiers arrive
// already constructed and keep their own configuration.
func (r *registry) configure(id tier.ID, s Settings) error {
	if tier.Rank(id) < 0 {
		return fmt.Errorf("%w: %q", ErrUnknownTier, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return ErrDiscovered
	}
	r.settings[id] = s
	return nil
}

func (r *registry) enabled(id tier.ID) bool {
	if r.include == nil {
		return true
	}
	return r.include[id]
}

// discover probes every enabled tier exactly once and keeps the survivors
// in priority order. Concurrent callers block until the first pass is done.
func (r *registry) discover(ctx context.Context) {
	r.once.Do(func() {
		r.mu.Lock()
		cfgPath := r.cfgPath
		r.mu.Unlock()

		dir, dirErr := provisionCacheDir(cfgPath)
		if dirErr != nil {
			// File-backed tiers will fail their probes and drop out.
			r.log.Error("no writable cache directory", Fields{"err": dirErr})
			if r.fail != nil {
				r.fail(dirErr)
			}
		}

		health := make(map[tier.ID]bool, len(tier.Order)+len(r.extra))
		var avail []tier.Tier
		for _, id := range tier.Order {
			if !r.enabled(id) {
				continue
			}
			t, err := r.build(id, dir)
			health[id] = r.admit(ctx, id, t, err)
			if health[id] {
				avail = append(avail, t)
			}
		}
		for _, t := range r.extra {
			id := t.ID()
			health[id] = r.admit(ctx, id, t, nil)
			if health[id] {
				avail = append(avail, t)
			}
		}

		r.mu.Lock()
		r.resolved = dir
		r.avail = avail
		r.health = health
		r.done = true
		r.mu.Unlock()

		r.log.Info("tier discovery complete", Fields{"available": len(avail), "dir": dir})
	})
}

// admit probes a freshly built tier and reports whether it joins the
// hierarchy. A tier that built fine but failed the probe is closed here.
func (r *registry) admit(ctx context.Context, id tier.ID, t tier.Tier, err error) bool {
	if err == nil {
		if err = t.Probe(ctx); err != nil {
			_ = t.Close(ctx)
		}
	}
	r.hooks.TierProbed(id, err)
	switch {
	case err == nil:
		r.log.Debug("tier admitted", Fields{"tier": id})
		return true
	case errors.Is(err, tier.ErrUnavailable):
		r.log.Debug("tier unavailable", Fields{"tier": id, "err": err})
	default:
		r.log.Warn("tier probe failed", Fields{"tier": id, "err": err})
	}
	return false
}

// build constructs a built-in tier from its settings. The returned error
// wraps tier.ErrUnavailable when the backend cannot exist in this
// environment, which discovery treats as a quiet skip.
func (r *registry) build(id tier.ID, dir string) (tier.Tier, error) {
	r.mu.Lock()
	s := r.settings[id]
	r.mu.Unlock()

	switch id {
	case tier.OpcodeCache:
		return opcache.New(opcache.Config{Dir: subdir(dir, "code")})
	case tier.SharedMemory:
		return shm.New(shm.Config{
			Dir:         subdir(dir, "shm"),
			BaseKey:     int32(s.integer("base_key", 0)),
			SegmentSize: s.integer("segment_size", 0),
		})
	case tier.LocalProcess:
		return local.New(local.Config{})
	case tier.LocalProcessAlt:
		return localalt.New(localalt.Config{})
	case tier.MemoryMapped:
		return mmapcache.New(mmapcache.Config{
			Dir:      subdir(dir, "mmap"),
			FileSize: s.integer("file_size", 0),
		})
	case tier.NetworkKV:
		return netkv.New(netkv.Config{
			Host:           s.str("host", ""),
			Port:           s.integer("port", 0),
			Prefix:         s.str("prefix", ""),
			Persistent:     s.boolean("persistent", true),
			RetryAttempts:  s.integer("retry_attempts", 0),
			RetryDelay:     s.seconds("retry_delay", 0),
			ConnectTimeout: s.seconds("connect_timeout", 0),
		})
	case tier.NetworkCluster:
		return cluster.New(cluster.Config{
			Host:           s.str("host", ""),
			Port:           s.integer("port", 0),
			Prefix:         s.str("prefix", ""),
			Persistent:     s.boolean("persistent", true),
			RetryAttempts:  s.integer("retry_attempts", 0),
			RetryDelay:     s.seconds("retry_delay", 0),
			ConnectTimeout: s.seconds("connect_timeout", 0),
		})
	case tier.Filesystem:
		return fscache.New(fscache.Config{Dir: s.str("base_path", dir)})
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTier, id)
}

// subdir joins a child onto the cache directory and makes sure it exists.
// With no cache directory there is nothing to join; the tier's own New
// reports unavailable.
func subdir(dir, child string) string {
	if dir == "" {
		return ""
	}
	p := filepath.Join(dir, child)
	if err := os.MkdirAll(p, 0o755); err != nil {
		return ""
	}
	return p
}

// available returns the post-discovery hierarchy, fastest first.
func (r *registry) available() []tier.Tier {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.avail
}

// healthMap returns a copy of the per-tier probe outcomes.
func (r *registry) healthMap() map[tier.ID]bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[tier.ID]bool, len(r.health))
	for id, ok := range r.health {
		out[id] = ok
	}
	return out
}

// closeAll shuts down every admitted tier and empties the hierarchy.
func (r *registry) closeAll(ctx context.Context) error {
	r.mu.Lock()
	ts := r.avail
	r.avail = nil
	r.mu.Unlock()

	var errs []error
	for _, t := range ts {
		if err := t.Close(ctx); err != nil {
			r.hooks.TierError(t.ID(), "close", err)
			errs = append(errs, fmt.Errorf("%s: %w", t.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// cacheDirCandidates lists the directories discovery tries in order: the
// configured path, a shared and a per-user temp location, then fallbacks
// next to the working directory and the executable.
func cacheDirCandidates(configured string) []string {
	var cands []string
	if configured != "" {
		cands = append(cands, configured)
	}
	tmp := os.TempDir()
	cands = append(cands,
		filepath.Join(tmp, "tiercache"),
		filepath.Join(tmp, fmt.Sprintf("tiercache-%d", os.Getuid())),
	)
	if wd, err := os.Getwd(); err == nil {
		cands = append(cands, filepath.Join(wd, ".tiercache"))
	}
	if exe, err := os.Executable(); err == nil {
		cands = append(cands, filepath.Join(filepath.Dir(exe), "tiercache.cache"))
	}
	return cands
}

// provisionCacheDir returns the first candidate that can be made writable.
func provisionCacheDir(configured string) (string, error) {
	var errs []error
	for _, dir := range cacheDirCandidates(configured) {
		if err := provisionDir(dir); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dir, err))
			continue
		}
		return dir, nil
	}
	return "", fmt.Errorf("no candidate directory is writable: %w", errors.Join(errs...))
}

// provisionDir makes dir exist and accept files, escalating across three
// attempts: create, then chmod 0755, then chmod 0777. Each attempt is
// verified by actually writing a file.
func provisionDir(dir string) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		switch attempt {
		case 0:
			if err := os.MkdirAll(dir, 0o755); err != nil {
				lastErr = err
				continue
			}
		case 1:
			if err := os.Chmod(dir, 0o755); err != nil {
				lastErr = err
				continue
			}
		case 2:
			if err := os.Chmod(dir, 0o777); err != nil {
				lastErr = err
				continue
			}
		}
		if err := writable(dir); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// writable proves a directory accepts files by creating and removing one.
func writable(dir string) error {
	f, err := os.CreateTemp(dir, ".tiercache-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
