package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"panelkit/internal/eventbus"
	rtsup "panelkit/internal/runtime/supervisor"
	"panelkit/internal/storage"
	logx "panelkit/pkg/logx"
)

// Handler executes one persisted task. The returned bytes are stored as
// the task result; a non-nil error counts as a failed attempt.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Job is a named periodic closure. Errors are logged and published on
// the bus; they never stop the schedule.
type Job func(ctx context.Context) error

type Config struct {
	// PollInterval is how often the queue is drained. Default 30s.
	PollInterval time.Duration
	// BatchSize bounds how many due rows one drain pass picks up. Default 50.
	BatchSize int
	// MaxRetries is the total attempt budget per task. Default 3.
	MaxRetries int
	// Timezone for cron specs ("" means local time).
	Timezone string
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	return c
}

type jobDef struct {
	name string
	spec string
	fn   Job
}

// Service owns the cron runner, the drain loop and the handler registry.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	db  storage.Store

	parser cron.Parser
	c      *cron.Cron
	jobs   []jobDef

	hmu      sync.RWMutex
	handlers map[string]Handler

	sup     *rtsup.Supervisor
	running bool

	now func() time.Time
}
