// SPDX-License-Identifier: Apache-2.0

package dnsrecord

import (
	"fmt"
	"net"
	"sort"
	"strings"
)

// Type is a managed or observed DNS record type.
type Type string

// Managed types, synthesized and mutated by this agent.
const (
	TypeA     Type = "A"
	TypeAAAA  Type = "AAAA"
	TypeSRV   Type = "SRV"
	TypeTXT   Type = "TXT"
	TypePTR   Type = "PTR"
	TypeCNAME Type = "CNAME"
)

// Types that only ever appear when reading backend state; never
// synthesized or written by this agent.
const (
	TypeSOA Type = "SOA"
	TypeNS  Type = "NS"
	TypeMX  Type = "MX"
	TypeCAA Type = "CAA"
)

// Managed reports whether t is one of the six types this agent publishes
// and suppresses. Backend.DNSRecords filters its result to these.
func (t Type) Managed() bool {
	switch t {
	case TypeA, TypeAAAA, TypeSRV, TypeTXT, TypePTR, TypeCNAME:
		return true
	}
	return false
}

// RRKey identifies an RRset: all Records sharing a (Name, Type) pair.
type RRKey struct {
	Name Name
	Type Type
}

func (k RRKey) String() string {
	return fmt.Sprintf("%s %s", k.Name.normalized(), k.Type)
}

// Data is the type-tagged payload of a Record. Exactly one of the typed
// accessors below is meaningful for a given Record's Type.
type Data struct {
	IP   net.IP      // A, AAAA
	SRV  SRVData     // SRV
	TXT  []string    // TXT, already "key=value" or bare-key strings, ordered
	Name Name        // PTR, CNAME target
	Raw  string       // opaque representation for SOA/NS/MX/CAA passthrough records
}

// SRVData is the (priority, weight, port, target) tuple of an SRV record.
type SRVData struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   Name
}

// Record is an immutable DNS resource record. Two Records are Equal iff
// (Name, Type, Data) are equal; TTL is not part of identity.
type Record struct {
	Name Name
	TTL  uint32
	Type Type
	Data Data
}

// Key returns the RRset key this record belongs to.
func (r Record) Key() RRKey {
	return RRKey{Name: r.Name, Type: r.Type}
}

// Equal reports whether r and other have the same identity: (name, type,
// data). TTL differences are ignored.
func (r Record) Equal(other Record) bool {
	if !r.Name.Equal(other.Name) || r.Type != other.Type {
		return false
	}
	return r.dataString() == other.dataString()
}

// dataString renders Data into a canonical comparable form per type.
func (r Record) dataString() string {
	switch r.Type {
	case TypeA, TypeAAAA:
		if r.Data.IP == nil {
			return ""
		}
		return r.Data.IP.String()
	case TypeSRV:
		return fmt.Sprintf("%d %d %d %s", r.Data.SRV.Priority, r.Data.SRV.Weight, r.Data.SRV.Port, r.Data.SRV.Target.normalized())
	case TypeTXT:
		return strings.Join(r.Data.TXT, "\x00")
	case TypePTR, TypeCNAME:
		return r.Data.Name.normalized()
	default:
		return r.Data.Raw
	}
}

// NewA builds an A record.
func NewA(name Name, ttl uint32, ip net.IP) Record {
	return Record{Name: name, TTL: ttl, Type: TypeA, Data: Data{IP: ip.To4()}}
}

// NewAAAA builds an AAAA record.
func NewAAAA(name Name, ttl uint32, ip net.IP) Record {
	return Record{Name: name, TTL: ttl, Type: TypeAAAA, Data: Data{IP: ip.To16()}}
}

// NewSRV builds an SRV record.
func NewSRV(name Name, ttl uint32, priority, weight, port uint16, target Name) Record {
	return Record{Name: name, TTL: ttl, Type: TypeSRV, Data: Data{SRV: SRVData{
		Priority: priority, Weight: weight, Port: port, Target: target,
	}}}
}

// NewTXT builds a TXT record from an ordered list of already-formatted
// "key=value" (or bare key) strings. Callers are responsible for sorting
// txtvers first before calling NewTXT; see labels.SortTags.
func NewTXT(name Name, ttl uint32, entries []string) Record {
	if len(entries) == 0 {
		entries = []string{""}
	}
	cp := make([]string, len(entries))
	copy(cp, entries)
	return Record{Name: name, TTL: ttl, Type: TypeTXT, Data: Data{TXT: cp}}
}

// NewPTR builds a PTR record.
func NewPTR(name Name, ttl uint32, target Name) Record {
	return Record{Name: name, TTL: ttl, Type: TypePTR, Data: Data{Name: target}}
}

// NewCNAME builds a CNAME record.
func NewCNAME(name Name, ttl uint32, target Name) Record {
	return Record{Name: name, TTL: ttl, Type: TypeCNAME, Data: Data{Name: target}}
}

// Set is an unordered collection of Records, used for desired/observed
// comparisons. Equality of two Sets is set equality by Record.Equal.
type Set []Record

// Index builds a map from RRKey to the records sharing that key, useful
// for validating TTL uniformity within an RRset.
func (s Set) Index() map[RRKey][]Record {
	out := make(map[RRKey][]Record, len(s))
	for _, r := range s {
		k := r.Key()
		out[k] = append(out[k], r)
	}
	return out
}

// Contains reports whether s contains a record equal to r.
func (s Set) Contains(r Record) bool {
	for _, existing := range s {
		if existing.Equal(r) {
			return true
		}
	}
	return false
}

// Diff returns the records in desired not present in observed ("to
// publish") and the records in observed not present in desired ("to
// suppress"), by Record.Equal.
func Diff(desired, observed Set) (toPublish, toSuppress Set) {
	for _, d := range desired {
		if !observed.Contains(d) {
			toPublish = append(toPublish, d)
		}
	}
	for _, o := range observed {
		if !desired.Contains(o) {
			toSuppress = append(toSuppress, o)
		}
	}
	return toPublish, toSuppress
}

// SortedKeys returns the RRKeys of an index map in a stable, deterministic
// order (by string form), useful for deterministic iteration in tests and
// logs.
func SortedKeys(idx map[RRKey][]Record) []RRKey {
	keys := make([]RRKey, 0, len(idx))
	for k := range idx {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}
