// Package mail runs the inbox channel: it polls an IMAP mailbox for unseen
// messages from authorized senders, advances their sessions, and replies over
// SMTP.
package mail

import (
	"strings"
	"sync"
)

// AllowList is the set of sender addresses permitted to use the inbox channel.
// Safe for concurrent use; Update supports config hot reload.
type AllowList struct {
	mu      sync.RWMutex
	allowed map[string]struct{}
}

// NewAllowList normalizes and stores the given addresses.
func NewAllowList(addresses []string) *AllowList {
	al := &AllowList{}
	al.Update(addresses)
	return al
}

// Update replaces the allowed set.
func (al *AllowList) Update(addresses []string) {
	next := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		if n := NormalizeAddress(a); n != "" {
			next[n] = struct{}{}
		}
	}
	al.mu.Lock()
	al.allowed = next
	al.mu.Unlock()
}

// Allowed reports whether the address is authorized.
func (al *AllowList) Allowed(address string) bool {
	n := NormalizeAddress(address)
	al.mu.RLock()
	defer al.mu.RUnlock()
	_, ok := al.allowed[n]
	return ok
}

// Len returns the number of authorized addresses.
func (al *AllowList) Len() int {
	al.mu.RLock()
	defer al.mu.RUnlock()
	return len(al.allowed)
}

// NormalizeAddress extracts the bare address from forms like
// "Name <user@example.com>" and lowercases it.
func NormalizeAddress(raw string) string {
	s := strings.TrimSpace(raw)
	if open := strings.LastIndex(s, "<"); open >= 0 {
		if close := strings.Index(s[open:], ">"); close > 0 {
			s = s[open+1 : open+close]
		}
	}
	return strings.ToLower(strings.TrimSpace(s))
}
