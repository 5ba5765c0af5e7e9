// SPDX-License-Identifier: Apache-2.0

// Package backend defines the abstract backend contract: the four
// operations every DNS provider implementation exposes, the typed
// failure taxonomy those operations raise, and the RecordCache / retry
// machinery shared by all of them. A small interface plus a shared
// utility type, not inheritance.
package backend

import (
	"context"

	"github.com/discourse/ddns-sd/pkg/dnsrecord"
)

// Backend is the abstract contract every DNS provider implementation
// satisfies. All operations are idempotent under retry.
type Backend interface {
	// DNSRecords returns the currently-visible managed zone contents,
	// filtered to the six managed types. Names keep the base-zone suffix
	// (without a trailing dot); they are not rewritten relative to the
	// base zone.
	DNSRecords(ctx context.Context) (dnsrecord.Set, error)

	// PublishRecord publishes one record. A/AAAA/CNAME: upsert (the
	// RRset becomes exactly {r}). SRV/PTR: add-to-set (union into the
	// RRset). TXT: replace (the RRset becomes exactly {r}).
	PublishRecord(ctx context.Context, r dnsrecord.Record) error

	// SuppressRecord removes exactly r: for every type, TXT included, it
	// deletes the single (name, type, value) entry equal to r. A TXT
	// RRset whose content differs from r is left in place.
	SuppressRecord(ctx context.Context, r dnsrecord.Record) error

	// SuppressSharedRecord atomically removes one SRV record and, if no
	// SRV remains at that name afterwards, also removes the sibling TXT
	// RRset and this SRV's entry in the parent PTR RRset (refcount-like
	// shared-record semantics).
	SuppressSharedRecord(ctx context.Context, srv dnsrecord.Record) error
}
