// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"sync"

	"github.com/discourse/ddns-sd/pkg/dnsrecord"
)

// entry is one RRset mirrored in a Cache: its records plus an optional
// opaque version token (an etag, or a provider-specific list snapshot;
// empty string if the backend doesn't support conditional writes).
type entry struct {
	records dnsrecord.Set
	version string
}

// Cache is a per-backend in-memory mirror of the managed zone, indexed by
// (name, type). It is only ever touched from the single writer task that
// owns the backend; no internal locking would be required for that
// invariant alone, but Cache also serializes reads from
// metrics/diagnostics goroutines, so a mutex guards it regardless.
type Cache struct {
	mu   sync.Mutex
	data map[dnsrecord.RRKey]entry
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{data: make(map[dnsrecord.RRKey]entry)}
}

// Get returns the records and version token at key, if present.
func (c *Cache) Get(key dnsrecord.RRKey) (dnsrecord.Set, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[key]
	if !ok {
		return nil, "", false
	}
	return append(dnsrecord.Set(nil), e.records...), e.version, true
}

// AllOfType returns every record of the given type across all names.
func (c *Cache) AllOfType(t dnsrecord.Type) dnsrecord.Set {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out dnsrecord.Set
	for k, e := range c.data {
		if k.Type == t {
			out = append(out, e.records...)
		}
	}
	return out
}

// All returns every record mirrored in the cache.
func (c *Cache) All() dnsrecord.Set {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out dnsrecord.Set
	for _, e := range c.data {
		out = append(out, e.records...)
	}
	return out
}

// Add unions r into the RRset at r.Key(), used for SRV/PTR add-to-set
// semantics.
func (c *Cache) Add(r dnsrecord.Record, version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := r.Key()
	e := c.data[key]
	if !e.records.Contains(r) {
		e.records = append(e.records, r)
	}
	e.version = version
	c.data[key] = e
}

// Remove deletes exactly r from its RRset, pruning the RRset entirely if
// it becomes empty.
func (c *Cache) Remove(r dnsrecord.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := r.Key()
	e, ok := c.data[key]
	if !ok {
		return
	}
	filtered := e.records[:0]
	for _, existing := range e.records {
		if !existing.Equal(r) {
			filtered = append(filtered, existing)
		}
	}
	if len(filtered) == 0 {
		delete(c.data, key)
		return
	}
	e.records = filtered
	c.data[key] = e
}

// Set replaces the RRset at key with exactly records, used for A/AAAA/
// CNAME upsert and TXT replace semantics.
func (c *Cache) Set(key dnsrecord.RRKey, records dnsrecord.Set, version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(records) == 0 {
		delete(c.data, key)
		return
	}
	c.data[key] = entry{records: append(dnsrecord.Set(nil), records...), version: version}
}

// Delete removes the whole RRset at key.
func (c *Cache) Delete(key dnsrecord.RRKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
}

// RefreshAll replaces the entire cache contents with a fresh fetch from
// the provider, used at startup and whenever a backend wants to
// re-synchronize wholesale.
func (c *Cache) RefreshAll(ctx context.Context, fetch func(context.Context) (dnsrecord.Set, error)) error {
	records, err := fetch(ctx)
	if err != nil {
		return err
	}
	idx := records.Index()
	fresh := make(map[dnsrecord.RRKey]entry, len(idx))
	for key, recs := range idx {
		fresh[key] = entry{records: recs}
	}
	c.mu.Lock()
	c.data = fresh
	c.mu.Unlock()
	return nil
}

// Refresh re-fetches and replaces a single RRset, along with its new
// version token, used on Conflict before a mutation is retried.
func (c *Cache) Refresh(ctx context.Context, key dnsrecord.RRKey, fetch func(context.Context, dnsrecord.RRKey) (dnsrecord.Set, string, error)) error {
	records, version, err := fetch(ctx, key)
	if err != nil {
		return err
	}
	c.Set(key, records, version)
	return nil
}
