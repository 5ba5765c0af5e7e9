// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"

	"github.com/discourse/ddns-sd/pkg/dnsrecord"
)

// SharedRemovalOps are the primitive operations SuppressShared composes
// into a {read, decide, apply, verify} state machine: remove the SRV,
// read back what's left at that name, and if nothing remains, also drop
// the sibling TXT RRset and this instance's entry in the parent PTR
// RRset. Backends whose provider supports multi-statement transactions
// (pkg/backend/sqlrow) collapse all four steps into one transaction
// instead of using this helper; backends that can't
// (pkg/backend/route53, pkg/backend/azuredns) use it as-is, each attempt
// wrapped in backend.WithRetry by the caller.
type SharedRemovalOps interface {
	RemoveSRV(ctx context.Context, srv dnsrecord.Record) error
	ListSRV(ctx context.Context, name dnsrecord.Name) (dnsrecord.Set, error)
	RemoveTXTRRset(ctx context.Context, name dnsrecord.Name) error
	RemovePTREntry(ctx context.Context, parent, target dnsrecord.Name) error
}

// SuppressShared implements suppress_shared_record: remove one SRV
// record, and only if no SRV remains at that name afterwards, remove the
// sibling TXT RRset and the pointing PTR entry at the parent
// `_svc._proto` name.
func SuppressShared(ctx context.Context, ops SharedRemovalOps, srv dnsrecord.Record) error {
	if err := ops.RemoveSRV(ctx, srv); err != nil {
		return err
	}

	remaining, err := ops.ListSRV(ctx, srv.Name)
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		return nil
	}

	if err := ops.RemoveTXTRRset(ctx, srv.Name); err != nil {
		return err
	}
	return ops.RemovePTREntry(ctx, srv.Name.Parent(), srv.Name)
}
