package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Load reads the config at path (YAML or JSON by extension), decodes it
// strictly (unknown keys are errors) and validates it.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, b)
}

// Parse decodes and validates raw config bytes. The path determines
// the format and only appears in error messages.
func Parse(path string, data []byte) (*Config, error) {
	jb := data
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		v, err := yamlToJSONValue(data)
		if err != nil {
			return nil, err
		}
		if jb, err = json.Marshal(v); err != nil {
			return nil, fmt.Errorf("yaml->json marshal: %w", err)
		}
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and that every duration string parses,
// then fills per-upstream session_ttl from session.ttl where omitted.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path: required")
	}

	durs := []struct{ path, raw string }{
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"cache.ttl", c.Cache.TTL},
		{"cache.durable_ttl", c.Cache.DurableTTL},
		{"session.ttl", c.Session.TTL},
		{"scheduler.poll_interval", c.Scheduler.PollInterval},
		{"scheduler.retention", c.Scheduler.Retention},
	}
	for _, d := range durs {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
	}

	seen := map[string]bool{}
	for i := range c.Upstreams {
		u := &c.Upstreams[i]
		name := strings.TrimSpace(u.Name)
		if name == "" {
			return fmt.Errorf("upstreams[%d].name: required", i)
		}
		if seen[name] {
			return fmt.Errorf("upstreams[%d].name: duplicate %q", i, name)
		}
		seen[name] = true
		if err := u.validate(fmt.Sprintf("upstreams[%d]", i)); err != nil {
			return err
		}
		// session.ttl is the fleet-wide default; upstreams may override.
		if strings.TrimSpace(u.SessionTTL) == "" {
			u.SessionTTL = c.Session.TTL
		}
	}
	return nil
}

func (u *Upstream) validate(path string) error {
	durs := []struct{ path, raw string }{
		{path + ".per", u.Per},
		{path + ".session_ttl", u.SessionTTL},
		{path + ".retry.base_delay", u.Retry.BaseDelay},
		{path + ".retry.max_delay", u.Retry.MaxDelay},
		{path + ".breaker.recovery_timeout", u.Breaker.RecoveryTimeout},
	}
	for _, d := range durs {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	switch s := strings.ToLower(strings.TrimSpace(u.Retry.Strategy)); s {
	case "", "exponential", "linear", "constant":
	default:
		return fmt.Errorf("%s.retry.strategy: unknown strategy %q", path, u.Retry.Strategy)
	}
	return nil
}
