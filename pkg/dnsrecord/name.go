// SPDX-License-Identifier: Apache-2.0

// Package dnsrecord provides the DNSRecord value type shared by every
// backend and by the record synthesizer: an immutable (name, ttl, type,
// data) tuple with content-based equality and name comparisons that
// tolerate a trailing dot and case differences.
package dnsrecord

import "strings"

// Name is a DNS name. It may be absolute (trailing dot) or relative to
// some base zone. Comparison is always case-insensitive.
type Name string

// Equal compares two names case-insensitively, ignoring a trailing dot.
func (n Name) Equal(other Name) bool {
	return n.normalized() == other.normalized()
}

func (n Name) normalized() string {
	return strings.ToLower(strings.TrimSuffix(string(n), "."))
}

// IsSubdomainOf reports whether n names a node at or under zone.
func (n Name) IsSubdomainOf(zone Name) bool {
	s := n.normalized()
	z := zone.normalized()
	if z == "" {
		return true
	}
	return s == z || strings.HasSuffix(s, "."+z)
}

// Label returns the leftmost label of n, i.e. the instance name in
// `<inst>._<svc>._<proto>.<zone>`.
func (n Name) Label() string {
	s := strings.TrimSuffix(string(n), ".")
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

// Parent returns n with its leftmost label removed.
func (n Name) Parent() Name {
	s := strings.TrimSuffix(string(n), ".")
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return Name(s[i+1:])
	}
	return ""
}
