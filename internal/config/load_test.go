package config

import (
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  path: /var/lib/panelkit/panelkit.db
  busy_timeout: 5s
cache:
  max_size: 500
  ttl: 2m
  durable_ttl: 1h
session:
  ttl: 45m
scheduler:
  poll_interval: 30s
  batch_size: 50
  max_retries: 3
  timezone: UTC
  retention: 168h
upstreams:
  - name: panel-a
    rate: 10
    per: 1s
    session_ttl: 1h
    retry:
      max_attempts: 3
      base_delay: 1s
      max_delay: 30s
      strategy: exponential
    breaker:
      failure_threshold: 5
      recovery_timeout: 30s
      half_open_requests: 3
`

func TestParseYAML(t *testing.T) {
	cfg, err := Parse("config.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging: %+v", cfg.Logging)
	}
	if cfg.Cache.MaxSize != 500 || cfg.Cache.TTL != "2m" {
		t.Fatalf("cache: %+v", cfg.Cache)
	}
	if len(cfg.Upstreams) != 1 {
		t.Fatalf("upstreams: %d", len(cfg.Upstreams))
	}
	u := cfg.Upstreams[0]
	if u.Name != "panel-a" || u.Retry.MaxAttempts != 3 || u.Breaker.FailureThreshold != 5 {
		t.Fatalf("upstream: %+v", u)
	}
}

func TestSessionTTLDefaultsUpstreams(t *testing.T) {
	yml := `
storage:
  path: /tmp/x.db
session:
  ttl: 30m
upstreams:
  - name: inherits
  - name: explicit
    session_ttl: 2h
`
	cfg, err := Parse("config.yaml", []byte(yml))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := cfg.Upstreams[0].SessionTTL; got != "30m" {
		t.Fatalf("inherited ttl: %q", got)
	}
	if got := cfg.Upstreams[1].SessionTTL; got != "2h" {
		t.Fatalf("explicit ttl overridden: %q", got)
	}
}

func TestParseJSON(t *testing.T) {
	cfg, err := Parse("config.json", []byte(`{"storage":{"path":"/tmp/x.db"}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage.Path != "/tmp/x.db" {
		t.Fatalf("path: %q", cfg.Storage.Path)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	yml := "storage:\n  path: /tmp/x.db\n  typo_key: 1\n"
	if _, err := Parse("config.yaml", []byte(yml)); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestParseRejectsTrailingJSON(t *testing.T) {
	if _, err := Parse("c.json", []byte(`{"storage":{"path":"/tmp/x.db"}}{}`)); err == nil {
		t.Fatalf("expected trailing data error")
	}
}

func TestValidateRequiresStoragePath(t *testing.T) {
	_, err := Parse("config.yaml", []byte("logging:\n  level: info\n"))
	if err == nil || !strings.Contains(err.Error(), "storage.path") {
		t.Fatalf("expected storage.path error, got %v", err)
	}
}

func TestValidateBadDuration(t *testing.T) {
	yml := "storage:\n  path: /tmp/x.db\ncache:\n  ttl: five minutes\n"
	_, err := Parse("config.yaml", []byte(yml))
	if err == nil || !strings.Contains(err.Error(), "cache.ttl") {
		t.Fatalf("expected cache.ttl error, got %v", err)
	}
}

func TestValidateBadTimezone(t *testing.T) {
	yml := "storage:\n  path: /tmp/x.db\nscheduler:\n  timezone: Mars/Olympus\n"
	if _, err := Parse("config.yaml", []byte(yml)); err == nil {
		t.Fatalf("expected timezone error")
	}
}

func TestValidateDuplicateUpstreams(t *testing.T) {
	yml := `
storage:
  path: /tmp/x.db
upstreams:
  - name: a
  - name: a
`
	_, err := Parse("config.yaml", []byte(yml))
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestValidateBadStrategy(t *testing.T) {
	yml := `
storage:
  path: /tmp/x.db
upstreams:
  - name: a
    retry:
      strategy: fibonacci
`
	_, err := Parse("config.yaml", []byte(yml))
	if err == nil || !strings.Contains(err.Error(), "strategy") {
		t.Fatalf("expected strategy error, got %v", err)
	}
}

func TestParseDurationField(t *testing.T) {
	d, err := ParseDurationField("x", " 90s ")
	if err != nil || d != 90*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatalf("expected negative rejection")
	}
	d, err = ParseDurationOrDefault("x", "", time.Minute)
	if err != nil || d != time.Minute {
		t.Fatalf("default: %v, %v", d, err)
	}
}
