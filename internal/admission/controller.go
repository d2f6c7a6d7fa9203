// Package admission throttles command traffic before it reaches the
// engines. Two independent gates apply, both keyed by actor: a sliding
// window over recent commands, and a slot ceiling bounding concurrent
// heavy operations.
package admission

import (
	"SpiritLedger/internal/ledger"
	"SpiritLedger/internal/observability"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config controls both gates.
type Config struct {
	// Window is the sliding interval for per-actor counting.
	Window time.Duration
	// Limit is the maximum commands per actor within Window.
	Limit int
	// Slots bounds concurrent heavy operations per actor.
	Slots int
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		Window: 60 * time.Second,
		Limit:  50,
		Slots:  10,
	}
}

// Controller tracks per-actor timestamps and in-flight slot counts.
// State is in-memory only; a restart admits everyone fresh, which is
// acceptable for a throttle.
type Controller struct {
	cfg     Config
	metrics *observability.Metrics
	log     zerolog.Logger
	now     func() time.Time

	mu       sync.Mutex
	recent   map[ledger.ActorID][]time.Time
	inflight map[ledger.ActorID]int
	inUse    int
	sweepAt  time.Time
}

func NewController(cfg Config, metrics *observability.Metrics) *Controller {
	return &Controller{
		cfg:      cfg,
		metrics:  metrics,
		log:      observability.NewLogger("admission"),
		now:      time.Now,
		recent:   make(map[ledger.ActorID][]time.Time),
		inflight: make(map[ledger.ActorID]int),
	}
}

// SetClock overrides the time source. Tests only.
func (c *Controller) SetClock(now func() time.Time) { c.now = now }

// TryAdmit records one command attempt for the actor. When the actor is
// over the limit the attempt is not recorded and retryAfter says how
// long until the oldest counted command slides out of the window.
func (c *Controller) TryAdmit(actor ledger.ActorID) (admitted bool, retryAfter time.Duration) {
	now := c.now()
	cutoff := now.Add(-c.cfg.Window)

	c.mu.Lock()
	defer c.mu.Unlock()

	stamps := c.trim(actor, cutoff)
	if len(stamps) >= c.cfg.Limit {
		retryAfter = stamps[0].Sub(cutoff)
		if c.metrics != nil {
			c.metrics.AdmissionDenied.WithLabelValues("rate").Inc()
		}
		return false, retryAfter
	}

	c.recent[actor] = append(stamps, now)
	c.maybeSweep(now, cutoff)
	return true, 0
}

// AcquireSlot claims one of the actor's slots, failing immediately when
// the actor's ceiling is reached. Callers must pair a successful acquire
// with ReleaseSlot for the same actor.
func (c *Controller) AcquireSlot(actor ledger.ActorID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inflight[actor] >= c.cfg.Slots {
		if c.metrics != nil {
			c.metrics.AdmissionDenied.WithLabelValues("slots").Inc()
		}
		return fmt.Errorf("%w: actor %d has all %d slots busy", ledger.ErrAdmissionDenied, actor, c.cfg.Slots)
	}
	c.inflight[actor]++
	c.inUse++
	if c.metrics != nil {
		c.metrics.AdmissionInflight.Set(float64(c.inUse))
	}
	return nil
}

// ReleaseSlot returns a previously acquired slot.
func (c *Controller) ReleaseSlot(actor ledger.ActorID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inflight[actor] == 0 {
		c.log.Warn().Int64("actor", int64(actor)).Msg("slot released without matching acquire")
		return
	}
	c.inflight[actor]--
	if c.inflight[actor] == 0 {
		delete(c.inflight, actor)
	}
	c.inUse--
	if c.metrics != nil {
		c.metrics.AdmissionInflight.Set(float64(c.inUse))
	}
}

// trim drops expired timestamps for one actor and returns what remains.
// Caller holds mu.
func (c *Controller) trim(actor ledger.ActorID, cutoff time.Time) []time.Time {
	stamps := c.recent[actor]
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		stamps = stamps[i:]
		if len(stamps) == 0 {
			delete(c.recent, actor)
		} else {
			c.recent[actor] = stamps
		}
	}
	return stamps
}

// maybeSweep walks all actors at most once per window so idle actors do
// not pin memory forever. Caller holds mu.
func (c *Controller) maybeSweep(now, cutoff time.Time) {
	if now.Before(c.sweepAt) {
		return
	}
	c.sweepAt = now.Add(c.cfg.Window)
	for actor := range c.recent {
		c.trim(actor, cutoff)
	}
}
