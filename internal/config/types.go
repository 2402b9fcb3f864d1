package config

// Config is the on-disk configuration of the runtime. Duration fields
// are Go duration strings ("30s", "5m"); empty means the built-in
// default.
type Config struct {
	Logging   Logging    `json:"logging"`
	Storage   Storage    `json:"storage"`
	Cache     Cache      `json:"cache"`
	Session   Session    `json:"session"`
	Scheduler Scheduler  `json:"scheduler"`
	Upstreams []Upstream `json:"upstreams"`
}

type Logging struct {
	Level   string `json:"level"`   // trace|debug|info|warn|error
	Console bool   `json:"console"` // pretty console writer instead of JSON
	File    string `json:"file"`    // optional append-only log file
}

type Storage struct {
	Path        string `json:"path"` // sqlite file, required
	BusyTimeout string `json:"busy_timeout"`
}

type Cache struct {
	MaxSize    int    `json:"max_size"`
	TTL        string `json:"ttl"`
	DurableTTL string `json:"durable_ttl"` // sqlite tier
}

// Session holds the default credential lifetime. Upstreams without an
// explicit session_ttl inherit it during validation.
type Session struct {
	TTL string `json:"ttl"`
}

type Scheduler struct {
	PollInterval string `json:"poll_interval"`
	BatchSize    int    `json:"batch_size"`
	MaxRetries   int    `json:"max_retries"`
	Timezone     string `json:"timezone"`
	// Retention is how long finished tasks are kept before cleanup.
	Retention string `json:"retention"`
}

type Retry struct {
	MaxAttempts int    `json:"max_attempts"`
	BaseDelay   string `json:"base_delay"`
	MaxDelay    string `json:"max_delay"`
	Strategy    string `json:"strategy"` // exponential|linear|constant
}

type Breaker struct {
	FailureThreshold int    `json:"failure_threshold"`
	RecoveryTimeout  string `json:"recovery_timeout"`
	HalfOpenRequests int    `json:"half_open_requests"`
}

type Upstream struct {
	Name       string  `json:"name"`
	Rate       int     `json:"rate"`
	Per        string  `json:"per"`
	SessionTTL string  `json:"session_ttl"`
	Retry      Retry   `json:"retry"`
	Breaker    Breaker `json:"breaker"`
}
