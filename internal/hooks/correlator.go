package hooks

import (
	"sync"
	"time"

	"github.com/basket/punchd/internal/shared"
)

// pendingCommand is a pre-command observation waiting for its post-command
// counterpart.
type pendingCommand struct {
	Token     string
	TaskID    string
	Command   string
	StartedAt time.Time
}

// maxPendingAge bounds how long an unmatched pre-command entry may wait for
// its post-command counterpart before it is treated as orphaned.
const maxPendingAge = time.Hour

// Correlator pairs pre-command and post-command notifications. Entries are
// keyed by the host's invocation id (or a generated token when the host
// supplies none) and deleted eagerly on completion; orphans whose post never
// arrives are evicted by age, so the map never accumulates across
// invocations.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]pendingCommand
	maxAge  time.Duration
}

func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[string]pendingCommand), maxAge: maxPendingAge}
}

// Begin registers a pre-command observation and returns the correlation key.
func (c *Correlator) Begin(invocationID, taskID, command string, startedAt time.Time) string {
	key := invocationID
	if key == "" {
		key = shared.NewInvocationToken()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(time.Now())
	c.pending[key] = pendingCommand{
		Token:     key,
		TaskID:    taskID,
		Command:   command,
		StartedAt: startedAt,
	}
	return key
}

// evictLocked drops entries older than maxAge. Caller holds mu.
func (c *Correlator) evictLocked(now time.Time) {
	for key, entry := range c.pending {
		if now.Sub(entry.StartedAt) > c.maxAge {
			delete(c.pending, key)
		}
	}
}

// Complete claims and removes the matching pre-command entry. The second
// return is false when no pre-command was observed for this id.
func (c *Correlator) Complete(invocationID string) (pendingCommand, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.pending[invocationID]
	if ok {
		delete(c.pending, invocationID)
	}
	return entry, ok
}

// Len reports the number of uncompleted entries.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
