// SPDX-License-Identifier: Apache-2.0

// Package reconcile computes the desired record set from every running
// container on the host, diffs it against what the backend currently
// has published, and converges the backend to match in an order that
// never leaves a dangling reference visible to a DNS-SD client.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-logr/logr"

	"github.com/discourse/ddns-sd/pkg/backend"
	"github.com/discourse/ddns-sd/pkg/container"
	"github.com/discourse/ddns-sd/pkg/dnsrecord"
	"github.com/discourse/ddns-sd/pkg/synth"
)

// filterHostSuppressions narrows toSuppress down to records that belong
// to this agent's own host subtree (`<container>.<host>.<zone>` or
// `<host>.<zone>` itself): address records and CNAMEs by their own name,
// SRVs by target, and PTRs by their target instance name matching an
// SRV this host owns. observed supplies the full picture needed to
// recognize an owned PTR/TXT entry even when the rest of a shared RRset
// belongs to other hosts. Everything else in toSuppress was published by
// some other host sharing this zone and must be left alone — suppressing
// it would break the multi-host coexistence the shared-record refcount
// machinery in pkg/backend exists to support.
func filterHostSuppressions(toSuppress, observed dnsrecord.Set, hostZone dnsrecord.Name) dnsrecord.Set {
	owned := make(map[string]bool)
	for _, r := range observed {
		if r.Type == dnsrecord.TypeSRV && r.Data.SRV.Target.IsSubdomainOf(hostZone) {
			owned[normalizeName(r.Name)] = true
		}
	}

	var out dnsrecord.Set
	for _, r := range toSuppress {
		var keep bool
		switch r.Type {
		case dnsrecord.TypeA, dnsrecord.TypeAAAA, dnsrecord.TypeCNAME:
			keep = r.Name.IsSubdomainOf(hostZone)
		case dnsrecord.TypeSRV:
			keep = r.Data.SRV.Target.IsSubdomainOf(hostZone)
		case dnsrecord.TypeTXT:
			keep = owned[normalizeName(r.Name)]
		case dnsrecord.TypePTR:
			keep = owned[normalizeName(r.Data.Name)]
		}
		if keep {
			out = append(out, r)
		}
	}
	return out
}

func normalizeName(n dnsrecord.Name) string {
	return strings.ToLower(strings.TrimSuffix(string(n), "."))
}

// Result summarizes one reconciliation pass; it is logged at completion
// and returned to the caller.
type Result struct {
	Published  int
	Suppressed int
	Errors     int
}

// Reconcile synthesizes the desired record set for every running
// container snapshot, lists what the backend currently observes, and
// publishes/suppresses the difference. Publishes are applied in
// address -> SRV -> PTR order so a client resolving the PTR chain
// never sees an SRV target with no address, and suppressions are
// applied in the reverse order so a PTR or SRV is never left pointing
// at something already gone.
func Reconcile(ctx context.Context, log logr.Logger, b backend.Backend, opts synth.Options, containers []container.Snapshot) (Result, error) {
	var desired dnsrecord.Set
	for _, c := range containers {
		if !c.Running() {
			continue
		}
		recs, errs := synth.Synthesize(opts, c)
		for _, err := range errs {
			log.Info("dropping service during reconcile", "container", c.Name, "error", err.Error())
		}
		desired = append(desired, recs...)
	}

	observed, err := b.DNSRecords(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("listing observed records: %w", err)
	}

	toPublish, toSuppress := dnsrecord.Diff(desired, observed)

	// A backend's zone is shared across every host publishing into it;
	// observed may hold other hosts' still-valid records that this host
	// simply didn't synthesize this run. Only this host's own subtree is
	// ever a candidate for suppression here.
	hostZone := dnsrecord.Name(fmt.Sprintf("%s.%s", opts.Host, opts.Zone))
	toSuppress = filterHostSuppressions(toSuppress, observed, hostZone)

	// Reconcile works off a single point-in-time snapshot rather than a
	// long-lived cache, so there's nothing local to refresh on a
	// Conflict; backend.WithRetry still retries, just without priming
	// a fresher read first.
	var result Result
	for _, r := range order(toPublish, publishOrder) {
		if err := backend.WithRetry(ctx, log, "publish", backend.Classify, nil, func(ctx context.Context) error {
			return b.PublishRecord(ctx, r)
		}); err != nil {
			log.Error(err, "failed to publish record during reconcile", "name", string(r.Name), "type", string(r.Type))
			result.Errors++
			continue
		}
		result.Published++
	}

	for _, r := range order(toSuppress, suppressOrder) {
		// SRV suppression goes through the shared-removal path so a stale
		// instance disappearing at startup also drops its now-orphaned TXT
		// sibling and parent PTR entry; TXT is never suppressed directly
		// for the same reason SRV suppression in pkg/events isn't.
		if r.Type == dnsrecord.TypeTXT {
			continue
		}
		op := "suppress"
		mutate := func(ctx context.Context) error { return b.SuppressRecord(ctx, r) }
		if r.Type == dnsrecord.TypeSRV {
			op = "suppress_shared"
			mutate = func(ctx context.Context) error { return b.SuppressSharedRecord(ctx, r) }
		}
		if err := backend.WithRetry(ctx, log, op, backend.Classify, nil, mutate); err != nil {
			log.Error(err, "failed to suppress record during reconcile", "name", string(r.Name), "type", string(r.Type))
			result.Errors++
			continue
		}
		result.Suppressed++
	}

	log.Info("reconcile complete", "published", result.Published, "suppressed", result.Suppressed, "errors", result.Errors)
	return result, nil
}

func publishOrder(t dnsrecord.Type) int {
	switch t {
	case dnsrecord.TypeA, dnsrecord.TypeAAAA, dnsrecord.TypeCNAME:
		return 0
	case dnsrecord.TypeSRV:
		return 1
	case dnsrecord.TypeTXT:
		return 1
	case dnsrecord.TypePTR:
		return 2
	default:
		return 3
	}
}

func suppressOrder(t dnsrecord.Type) int {
	switch t {
	case dnsrecord.TypePTR:
		return 0
	case dnsrecord.TypeSRV, dnsrecord.TypeTXT:
		return 1
	case dnsrecord.TypeA, dnsrecord.TypeAAAA, dnsrecord.TypeCNAME:
		return 2
	default:
		return 3
	}
}

// order returns recs stably sorted by the given phase function, so
// reconcile never emits a dependent record (an SRV or PTR) before the
// record it depends on.
func order(recs dnsrecord.Set, phase func(dnsrecord.Type) int) dnsrecord.Set {
	out := append(dnsrecord.Set(nil), recs...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && phase(out[j-1].Type) > phase(out[j].Type); j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
