package tiercache

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/tiercache/tier"
)

// Config is the YAML shape of cache configuration. Only built-in tiers can
// be configured this way; collaborator tiers arrive constructed through
// Options.Extra and read their own settings. A minimal file:
//
//	cache_path: /var/cache/app
//	prefix: app
//	default_ttl: 1h
//	cleanup_interval: 15m
//	tiers: [local_process, network_kv, filesystem]
//	tier_settings:
//	  network_kv:
//	    host: redis.internal
//	    port: 6379
//	    prefix: "app:"
type Config struct {
	CachePath       string              `yaml:"cache_path"`
	Prefix          string              `yaml:"prefix"`
	DefaultTTL      Duration            `yaml:"default_ttl"`
	CleanupInterval Duration            `yaml:"cleanup_interval"`
	Tiers           []string            `yaml:"tiers"`
	TierSettings    map[string]Settings `yaml:"tier_settings"`
}

// Duration is a time.Duration that unmarshals from either a ParseDuration
// string ("90s", "1h30m") or a bare number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err == nil {
		dd, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("tiercache: invalid duration %q", s)
		}
		*d = Duration(dd)
		return nil
	}
	var secs float64
	if err := n.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("tiercache: invalid duration %q", n.Value)
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tiercache: read config: %w", err)
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("tiercache: parse config: %w", err)
	}
	return &c, nil
}

// WithConfig overlays a loaded config onto the options. Values already set
// on the options win; the config fills the gaps.
func (o Options[V]) WithConfig(c *Config) Options[V] {
	if c == nil {
		return o
	}
	o.CachePath = coalesce(o.CachePath, c.CachePath)
	o.Prefix = coalesce(o.Prefix, c.Prefix)
	o.DefaultTTL = coalesce(o.DefaultTTL, time.Duration(c.DefaultTTL))
	o.CleanupInterval = coalesce(o.CleanupInterval, time.Duration(c.CleanupInterval))

	if o.Tiers == nil && c.Tiers != nil {
		ids := make([]tier.ID, len(c.Tiers))
		for i, s := range c.Tiers {
			ids[i] = tier.ID(s)
		}
		o.Tiers = ids
	}
	if len(c.TierSettings) > 0 {
		merged := make(map[tier.ID]Settings, len(c.TierSettings)+len(o.TierSettings))
		for id, s := range c.TierSettings {
			merged[tier.ID(id)] = s
		}
		for id, s := range o.TierSettings {
			merged[id] = s
		}
		o.TierSettings = merged
	}
	return o
}
