package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"cellgrid/task"
)

// Cache memoizes plans in process so repeated requests over the same
// targets skip the planning call.
type Cache struct {
	c   *ristretto.Cache[string, *task.Plan]
	ttl time.Duration
}

// NewCache creates a cache holding up to maxPlans plans for ttl (zero ttl
// keeps them until evicted).
func NewCache(maxPlans int64, ttl time.Duration) (*Cache, error) {
	if maxPlans < 1 {
		maxPlans = 1
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, *task.Plan]{
		NumCounters: maxPlans * 10,
		MaxCost:     maxPlans,
		BufferItems: 64,
		// Every plan costs 1 so MaxCost is a plan count.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c, ttl: ttl}, nil
}

// CacheKey hashes everything that influences a plan.
func CacheKey(model task.ModelSelector, request string, targets []task.TargetSummary) string {
	h := sha256.New()
	h.Write([]byte(model.String()))
	h.Write([]byte{0})
	h.Write([]byte(strings.TrimSpace(request)))
	for _, t := range targets {
		h.Write([]byte{0})
		h.Write([]byte(t.ID + "\x1f" + t.Name + "\x1f" + t.Type))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Cache) Get(key string) (*task.Plan, bool) {
	return c.c.Get(key)
}

// Set stores plan and waits for the write to become visible.
func (c *Cache) Set(key string, plan *task.Plan) {
	c.c.SetWithTTL(key, plan, 1, c.ttl)
	c.c.Wait()
}

func (c *Cache) Delete(key string) {
	c.c.Del(key)
}

func (c *Cache) Close() {
	c.c.Close()
}
