package ratelimit

import (
	"sync"
	"time"
)

// Cooldown enforces a fixed delay between uses per user, for command
// throttling.
type Cooldown struct {
	users map[string]time.Time
	mu    sync.Mutex
	limit time.Duration
}

func NewCooldown(limit time.Duration) *Cooldown {
	return &Cooldown{
		users: make(map[string]time.Time),
		limit: limit,
	}
}

func (c *Cooldown) CanUse(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	lastUse, exists := c.users[userID]
	if !exists || time.Since(lastUse) >= c.limit {
		c.users[userID] = time.Now()
		return true
	}
	return false
}

func (c *Cooldown) TimeUntilNext(userID string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	lastUse, exists := c.users[userID]
	if !exists {
		return 0
	}

	elapsed := time.Since(lastUse)
	if elapsed >= c.limit {
		return 0
	}
	return c.limit - elapsed
}

func (c *Cooldown) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for userID, lastUse := range c.users {
		if now.Sub(lastUse) > c.limit*2 {
			delete(c.users, userID)
		}
	}
}

func (c *Cooldown) StartCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for range ticker.C {
			c.Cleanup()
		}
	}()
}
