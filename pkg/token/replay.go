package token

import (
	"sync"
	"time"
)

// replayGuard tracks refresh token ids that were already exchanged. Entries
// are kept until the token's own expiry, after which signature verification
// rejects the token anyway.
type replayGuard struct {
	mu      sync.Mutex
	entries map[string]time.Time // jti -> token expiry
}

func newReplayGuard() *replayGuard {
	return &replayGuard{entries: make(map[string]time.Time)}
}

func (g *replayGuard) mark(id string, expiry time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.prune()
	g.entries[id] = expiry
}

func (g *replayGuard) seen(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	expiry, ok := g.entries[id]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(g.entries, id)
		return false
	}
	return true
}

func (g *replayGuard) prune() {
	now := time.Now()
	for id, expiry := range g.entries {
		if now.After(expiry) {
			delete(g.entries, id)
		}
	}
}
