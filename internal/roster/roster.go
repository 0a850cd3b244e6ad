package roster

import (
	"sort"
	"strings"
	"sync"
)

// Roster tracks the human players present in a room. Identities carrying the
// agent prefix are never members.
type Roster struct {
	mu          sync.RWMutex
	agentPrefix string
	members     map[string]struct{}
}

func New(agentPrefix string) *Roster {
	return &Roster{agentPrefix: agentPrefix, members: make(map[string]struct{})}
}

// IsAgent reports whether identity belongs to an agent rather than a player.
func (r *Roster) IsAgent(identity string) bool {
	return r.agentPrefix != "" && strings.HasPrefix(identity, r.agentPrefix)
}

// Join adds identity and reports whether it was newly added.
func (r *Roster) Join(identity string) bool {
	if identity == "" || r.IsAgent(identity) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[identity]; ok {
		return false
	}
	r.members[identity] = struct{}{}
	return true
}

// Leave removes identity and reports whether it was present.
func (r *Roster) Leave(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[identity]; !ok {
		return false
	}
	delete(r.members, identity)
	return true
}

// Seed adds every non-agent identity, used right after joining a room.
func (r *Roster) Seed(identities []string) {
	for _, id := range identities {
		r.Join(id)
	}
}

func (r *Roster) Contains(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[identity]
	return ok
}

func (r *Roster) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Snapshot returns the members sorted by identity.
func (r *Roster) Snapshot() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}
