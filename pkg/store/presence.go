package store

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// Presence tracks which users currently hold a live session. Entries
// carry a TTL so a crashed server instance does not leave users marked
// online forever.
type Presence struct {
	cache *cache.Cache
}

// NewPresence returns a presence cache whose entries expire after ttl.
// A zero ttl uses 30 minutes.
func NewPresence(ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Presence{cache: cache.New(ttl, 5*time.Minute)}
}

// SetOnline marks userID online
func (p *Presence) SetOnline(userID string) {
	p.cache.SetDefault(userID, true)
}

// SetOffline clears userID's online mark
func (p *Presence) SetOffline(userID string) {
	p.cache.Delete(userID)
}

// IsOnline reports whether userID is marked online
func (p *Presence) IsOnline(userID string) bool {
	_, ok := p.cache.Get(userID)
	return ok
}

// OnlineCount returns the number of users currently marked online
func (p *Presence) OnlineCount() int {
	return p.cache.ItemCount()
}
