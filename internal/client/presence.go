package client

import "sort"

// PresenceSet is the client's view of who is online.
type PresenceSet struct {
	users map[string]struct{}
}

func NewPresenceSet() *PresenceSet {
	return &PresenceSet{users: make(map[string]struct{})}
}

// Replace swaps the whole set for a server snapshot.
func (p *PresenceSet) Replace(userIDs []string) {
	p.users = make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		p.users[id] = struct{}{}
	}
}

// Add marks userID online and reports whether it was not already.
func (p *PresenceSet) Add(userID string) bool {
	if _, ok := p.users[userID]; ok {
		return false
	}
	p.users[userID] = struct{}{}
	return true
}

// Remove marks userID offline and reports whether it was online.
func (p *PresenceSet) Remove(userID string) bool {
	if _, ok := p.users[userID]; !ok {
		return false
	}
	delete(p.users, userID)
	return true
}

func (p *PresenceSet) Has(userID string) bool {
	_, ok := p.users[userID]
	return ok
}

func (p *PresenceSet) Len() int { return len(p.users) }

// List returns the online users in sorted order.
func (p *PresenceSet) List() []string {
	out := make([]string, 0, len(p.users))
	for id := range p.users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
