// SPDX-License-Identifier: Apache-2.0

// Package logonly implements a dry-run DNS backend: every mutation is
// logged at info level and mirrored into an in-memory backend.Cache so
// DNSRecords still reflects what would have been published, but nothing
// ever leaves this process. Useful for exercising the reconciler and
// event processor against a real container runtime without touching a
// zone.
package logonly

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/discourse/ddns-sd/pkg/backend"
	"github.com/discourse/ddns-sd/pkg/dnsrecord"
)

// Backend is a provider that logs every mutation and mirrors it into an
// in-memory cache instead of a real zone.
type Backend struct {
	log   logr.Logger
	cache *backend.Cache
}

// New returns a Backend that logs every mutation through log.
func New(log logr.Logger) *Backend {
	return &Backend{log: log.WithName("logonly"), cache: backend.NewCache()}
}

// DNSRecords returns everything published so far in this process.
func (b *Backend) DNSRecords(_ context.Context) (dnsrecord.Set, error) {
	return b.cache.All(), nil
}

// PublishRecord logs the record as published. A/AAAA/CNAME/TXT upsert
// (the RRset becomes exactly {r}); SRV/PTR add to the existing set,
// matching every other backend's mergeForPublish semantics so a repeated
// publish with a changed value doesn't leave a stale entry behind.
func (b *Backend) PublishRecord(_ context.Context, r dnsrecord.Record) error {
	b.log.Info("publish", "name", string(r.Name), "type", string(r.Type), "ttl", r.TTL, "data", r.Data.TXT, "value", valueFor(r))
	switch r.Type {
	case dnsrecord.TypeSRV, dnsrecord.TypePTR:
		b.cache.Add(r, "")
	default:
		b.cache.Set(r.Key(), dnsrecord.Set{r}, "")
	}
	return nil
}

// SuppressRecord logs the record as suppressed.
func (b *Backend) SuppressRecord(_ context.Context, r dnsrecord.Record) error {
	b.log.Info("suppress", "name", string(r.Name), "type", string(r.Type), "value", valueFor(r))
	b.cache.Remove(r)
	return nil
}

// SuppressSharedRecord logs the SRV removal and mirrors it into the
// cache; once no SRV remains at that name, it also drops the sibling
// TXT RRset and this instance's entry in the parent PTR RRset.
func (b *Backend) SuppressSharedRecord(_ context.Context, srv dnsrecord.Record) error {
	b.log.Info("suppress_shared", "name", string(srv.Name), "value", valueFor(srv))
	b.cache.Remove(srv)
	if _, _, ok := b.cache.Get(srv.Key()); ok {
		return nil
	}
	b.cache.Delete(dnsrecord.RRKey{Name: srv.Name, Type: dnsrecord.TypeTXT})
	b.cache.Remove(dnsrecord.NewPTR(srv.Name.Parent(), 0, srv.Name))
	return nil
}

func valueFor(r dnsrecord.Record) string {
	switch r.Type {
	case dnsrecord.TypeA, dnsrecord.TypeAAAA:
		return r.Data.IP.String()
	case dnsrecord.TypeCNAME, dnsrecord.TypePTR:
		return string(r.Data.Name)
	case dnsrecord.TypeSRV:
		return string(r.Data.SRV.Target)
	default:
		return r.Data.Raw
	}
}
