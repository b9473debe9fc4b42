package engine

import "sync"

// PlanCache memoizes plans by pipeline digest and target name. Plans
// for pipelines that close over functions are keyed by function
// identity through the digest, so the cache is process-local.
type PlanCache struct {
	mu    sync.RWMutex
	plans map[planKey]*Plan
}

type planKey struct {
	digest string
	target string
}

// NewPlanCache returns an empty plan cache.
func NewPlanCache() *PlanCache {
	return &PlanCache{plans: make(map[planKey]*Plan)}
}

// Get returns the cached plan for a pipeline digest on a target.
func (c *PlanCache) Get(digest, target string) (*Plan, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.plans[planKey{digest: digest, target: target}]
	return p, ok
}

// Put stores a plan. Plans are treated as immutable once cached.
func (c *PlanCache) Put(digest, target string, p *Plan) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plans[planKey{digest: digest, target: target}] = p
}

// Len reports the number of cached plans.
func (c *PlanCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.plans)
}
