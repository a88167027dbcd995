package storage

import "github.com/ruteri/tiered-storage/interfaces"

// AccessPolicy holds the blacklists of one provider. Providers embed it to
// implement interfaces.Provider.Allowed.
//
// Rules are registered during setup, before the provider serves requests;
// registration is not synchronized with concurrent lookups.
type AccessPolicy struct {
	blacklist      []interfaces.Matcher
	readBlacklist  []interfaces.Matcher
	writeBlacklist []interfaces.Matcher
}

// Blacklist blocks both reads and writes of matching keys.
func (p *AccessPolicy) Blacklist(m interfaces.Matcher) {
	p.blacklist = append(p.blacklist, m)
}

// ReadBlacklist blocks reads of matching keys.
func (p *AccessPolicy) ReadBlacklist(m interfaces.Matcher) {
	p.readBlacklist = append(p.readBlacklist, m)
}

// WriteBlacklist blocks writes and deletes of matching keys.
func (p *AccessPolicy) WriteBlacklist(m interfaces.Matcher) {
	p.writeBlacklist = append(p.writeBlacklist, m)
}

// Allowed reports whether key may be accessed for the given access type.
func (p *AccessPolicy) Allowed(key string, access interfaces.AccessType) bool {
	if matchesAny(p.blacklist, key) {
		return false
	}
	switch access {
	case interfaces.AccessRead:
		return !matchesAny(p.readBlacklist, key)
	case interfaces.AccessWrite:
		return !matchesAny(p.writeBlacklist, key)
	}
	return true
}

// PolicyConfigurer is implemented by every provider embedding AccessPolicy.
type PolicyConfigurer interface {
	Blacklist(m interfaces.Matcher)
	ReadBlacklist(m interfaces.Matcher)
	WriteBlacklist(m interfaces.Matcher)
}
