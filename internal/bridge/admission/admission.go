// Package admission enforces the in-flight request ceiling. Requests beyond
// the ceiling fail fast instead of queueing.
package admission

import (
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	apibridge "github.com/tiger/persona-bridge/api/bridge"
)

var (
	// ErrSaturated indicates the global in-flight ceiling was hit.
	ErrSaturated = errors.New("admission ceiling reached")
	// ErrPersonaSaturated indicates the per-persona outstanding limit was hit.
	ErrPersonaSaturated = errors.New("persona admission limit reached")
)

// Stats reports admission counters.
type Stats struct {
	Admitted          int64
	Rejected          int64
	RejectedByPersona int64
	InFlight          int64
}

// Controller bounds global and per-persona concurrent requests.
type Controller struct {
	global     *semaphore.Weighted
	maxPerKey  int
	admitted   atomic.Int64
	rejected   atomic.Int64
	rejectedBy atomic.Int64
	inFlight   atomic.Int64

	mu               sync.Mutex
	outstandingByKey map[apibridge.PersonaID]int
}

// NewController creates a controller with a global ceiling and an optional
// per-persona limit (0 disables the per-persona bound).
func NewController(maxConcurrent, maxPerPersona int) *Controller {
	if maxConcurrent < 1 {
		maxConcurrent = 64
	}
	if maxPerPersona < 0 {
		maxPerPersona = 0
	}
	return &Controller{
		global:           semaphore.NewWeighted(int64(maxConcurrent)),
		maxPerKey:        maxPerPersona,
		outstandingByKey: map[apibridge.PersonaID]int{},
	}
}

// Admit reserves a slot or fails immediately. The returned release func is
// safe to call exactly once.
func (c *Controller) Admit(id apibridge.PersonaID) (func(), error) {
	if !c.global.TryAcquire(1) {
		c.rejected.Add(1)
		return nil, ErrSaturated
	}
	if c.maxPerKey > 0 && !c.reserveOutstanding(id) {
		c.global.Release(1)
		c.rejected.Add(1)
		c.rejectedBy.Add(1)
		return nil, ErrPersonaSaturated
	}

	c.admitted.Add(1)
	c.inFlight.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			if c.maxPerKey > 0 {
				c.releaseOutstanding(id)
			}
			c.global.Release(1)
			c.inFlight.Add(-1)
		})
	}, nil
}

// Stats returns a snapshot of admission counters.
func (c *Controller) Stats() Stats {
	return Stats{
		Admitted:          c.admitted.Load(),
		Rejected:          c.rejected.Load(),
		RejectedByPersona: c.rejectedBy.Load(),
		InFlight:          c.inFlight.Load(),
	}
}

func (c *Controller) reserveOutstanding(id apibridge.PersonaID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.outstandingByKey[id] >= c.maxPerKey {
		return false
	}
	c.outstandingByKey[id]++
	return true
}

func (c *Controller) releaseOutstanding(id apibridge.PersonaID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.outstandingByKey[id]
	if current <= 1 {
		delete(c.outstandingByKey, id)
		return
	}
	c.outstandingByKey[id] = current - 1
}
