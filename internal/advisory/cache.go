package advisory

import (
	"sync"
	"time"

	"github.com/Veraticus/spice-rules/internal/model"
)

type cacheEntry struct {
	expiry     time.Time
	suggestion model.AdvisorySuggestion
}

// suggestionCache holds advisory answers keyed by conflict fingerprint.
// A fingerprint changes as soon as any candidate rule's keywords change,
// so stale answers are never served for an edited rule set.
type suggestionCache struct {
	entries   map[string]cacheEntry
	stopCh    chan struct{}
	now       func() time.Time
	ttl       time.Duration
	mu        sync.RWMutex
	closeOnce sync.Once
}

func newSuggestionCache(ttl time.Duration) *suggestionCache {
	if ttl == 0 {
		ttl = 15 * time.Minute
	}

	cache := &suggestionCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}

	go cache.cleanup()

	return cache
}

// get returns a copy of a cached suggestion if it exists and hasn't expired.
func (c *suggestionCache) get(key string) (model.AdvisorySuggestion, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || c.now().After(entry.expiry) {
		return model.AdvisorySuggestion{}, false
	}
	return cloneSuggestion(entry.suggestion), true
}

func (c *suggestionCache) set(key string, suggestion model.AdvisorySuggestion) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{
		suggestion: cloneSuggestion(suggestion),
		expiry:     c.now().Add(c.ttl),
	}
}

func (c *suggestionCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *suggestionCache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiry) {
			delete(c.entries, key)
		}
	}
}

func (c *suggestionCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine.
func (c *suggestionCache) Close() {
	c.closeOnce.Do(func() { close(c.stopCh) })
}

func cloneSuggestion(s model.AdvisorySuggestion) model.AdvisorySuggestion {
	out := model.AdvisorySuggestion{Rationale: s.Rationale}
	if s.Suggestions == nil {
		return out
	}
	out.Suggestions = make([]model.RuleSuggestion, len(s.Suggestions))
	for i, rs := range s.Suggestions {
		out.Suggestions[i] = model.RuleSuggestion{
			RuleID:              rs.RuleID,
			AddPositiveKeywords: append([]string(nil), rs.AddPositiveKeywords...),
			AddNegativeKeywords: append([]string(nil), rs.AddNegativeKeywords...),
		}
	}
	return out
}
