// SPDX-License-Identifier: Apache-2.0

// Package azuredns implements a DNS backend on top of Azure Private DNS:
// every write carries the ETag last observed for that RRset, so a
// concurrent modification surfaces as a PreconditionFailed response that
// backend.WithRetry classifies as a Conflict and retries after a fresh
// read.
package azuredns

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/privatedns/armprivatedns"

	"github.com/discourse/ddns-sd/pkg/backend"
	"github.com/discourse/ddns-sd/pkg/dnsrecord"
)

// RecordSetsAPI is the subset of armprivatedns.RecordSetsClient this
// package depends on.
type RecordSetsAPI interface {
	CreateOrUpdate(ctx context.Context, resourceGroupName, privateZoneName string, recordType armprivatedns.RecordType, relativeRecordSetName string, parameters armprivatedns.RecordSet, options *armprivatedns.RecordSetsClientCreateOrUpdateOptions) (armprivatedns.RecordSetsClientCreateOrUpdateResponse, error)
	Delete(ctx context.Context, resourceGroupName, privateZoneName string, recordType armprivatedns.RecordType, relativeRecordSetName string, options *armprivatedns.RecordSetsClientDeleteOptions) (armprivatedns.RecordSetsClientDeleteResponse, error)
	Get(ctx context.Context, resourceGroupName, privateZoneName string, recordType armprivatedns.RecordType, relativeRecordSetName string, options *armprivatedns.RecordSetsClientGetOptions) (armprivatedns.RecordSetsClientGetResponse, error)
	NewListPager(resourceGroupName, privateZoneName string, options *armprivatedns.RecordSetsClientListOptions) *runtime.Pager[armprivatedns.RecordSetsClientListResponse]
}

// Backend adapts RecordSetsAPI to backend.Backend, targeting a single
// private DNS zone within a resource group.
type Backend struct {
	client        RecordSetsAPI
	resourceGroup string
	zoneName      string
}

// New returns a Backend that manages records in the given private zone.
func New(client RecordSetsAPI, resourceGroup, zoneName string) *Backend {
	return &Backend{client: client, resourceGroup: resourceGroup, zoneName: zoneName}
}

// DNSRecords lists every managed-type record across the zone.
func (b *Backend) DNSRecords(ctx context.Context) (dnsrecord.Set, error) {
	var out dnsrecord.Set
	pager := b.client.NewListPager(b.resourceGroup, b.zoneName, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classifyErr("list", err)
		}
		for _, rs := range page.Value {
			recs, ok := fromRecordSet(rs, b.zoneName)
			if ok {
				out = append(out, recs...)
			}
		}
	}
	return out, nil
}

// PublishRecord upserts the RRset r belongs to, conditioned on the
// ETag last read for that name so a concurrent writer's change isn't
// silently clobbered.
func (b *Backend) PublishRecord(ctx context.Context, r dnsrecord.Record) error {
	relName, recordType := relativeName(r.Name, b.zoneName), toRecordType(r.Type)
	existing, etag, err := b.get(ctx, relName, recordType)
	if err != nil {
		return err
	}
	merged := mergeForPublish(r, existing)
	rs := toRecordSet(r.TTL, r.Type, merged)
	_, err = b.client.CreateOrUpdate(ctx, b.resourceGroup, b.zoneName, recordType, relName, rs, ifMatchOpts(etag))
	if err != nil {
		return classifyErr("publish", err)
	}
	return nil
}

// SuppressRecord removes exactly r from its RRset, deleting the
// recordset outright once it's empty.
func (b *Backend) SuppressRecord(ctx context.Context, r dnsrecord.Record) error {
	relName, recordType := relativeName(r.Name, b.zoneName), toRecordType(r.Type)
	existing, etag, err := b.get(ctx, relName, recordType)
	if err != nil {
		return err
	}
	remaining := removeFrom(r, existing)
	if len(remaining) == 0 {
		if _, err := b.client.Delete(ctx, b.resourceGroup, b.zoneName, recordType, relName, deleteIfMatchOpts(etag)); err != nil {
			return classifyErr("suppress", err)
		}
		return nil
	}
	rs := toRecordSet(r.TTL, r.Type, remaining)
	if _, err := b.client.CreateOrUpdate(ctx, b.resourceGroup, b.zoneName, recordType, relName, rs, ifMatchOpts(etag)); err != nil {
		return classifyErr("suppress", err)
	}
	return nil
}

// SuppressSharedRecord implements the shared-SRV cleanup state machine;
// Azure Private DNS has no cross-recordset transaction, so each step is
// its own ETag-conditioned request.
func (b *Backend) SuppressSharedRecord(ctx context.Context, srv dnsrecord.Record) error {
	return backend.SuppressShared(ctx, sharedOps{b}, srv)
}

func (b *Backend) get(ctx context.Context, relName string, recordType armprivatedns.RecordType) (dnsrecord.Set, string, error) {
	resp, err := b.client.Get(ctx, b.resourceGroup, b.zoneName, recordType, relName, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, "", nil
		}
		return nil, "", classifyErr("get", err)
	}
	recs, _ := fromRecordSet(resp.RecordSet, b.zoneName)
	return recs, derefString(resp.Etag), nil
}

type sharedOps struct{ b *Backend }

func (s sharedOps) RemoveSRV(ctx context.Context, srv dnsrecord.Record) error {
	return s.b.SuppressRecord(ctx, srv)
}

func (s sharedOps) ListSRV(ctx context.Context, name dnsrecord.Name) (dnsrecord.Set, error) {
	recs, _, err := s.b.get(ctx, relativeName(name, s.b.zoneName), armprivatedns.RecordTypeSRV)
	return recs, err
}

func (s sharedOps) RemoveTXTRRset(ctx context.Context, name dnsrecord.Name) error {
	relName := relativeName(name, s.b.zoneName)
	_, etag, err := s.b.get(ctx, relName, armprivatedns.RecordTypeTXT)
	if err != nil {
		return err
	}
	if _, err := s.b.client.Delete(ctx, s.b.resourceGroup, s.b.zoneName, armprivatedns.RecordTypeTXT, relName, deleteIfMatchOpts(etag)); err != nil {
		return classifyErr("suppress", err)
	}
	return nil
}

func (s sharedOps) RemovePTREntry(ctx context.Context, parent, target dnsrecord.Name) error {
	return s.b.SuppressRecord(ctx, dnsrecord.NewPTR(parent, 0, target))
}

func ifMatchOpts(etag string) *armprivatedns.RecordSetsClientCreateOrUpdateOptions {
	if etag == "" {
		return nil
	}
	return &armprivatedns.RecordSetsClientCreateOrUpdateOptions{IfMatch: to.Ptr(etag)}
}

func deleteIfMatchOpts(etag string) *armprivatedns.RecordSetsClientDeleteOptions {
	if etag == "" {
		return nil
	}
	return &armprivatedns.RecordSetsClientDeleteOptions{IfMatch: to.Ptr(etag)}
}

// classifyErr maps Azure responses onto backend.FailureKind: a stale
// ETag (PreconditionFailed) is a Conflict, throttling/5xx are
// Transient, and malformed requests are Fatal.
func classifyErr(op string, err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case 412:
			return &backend.Error{Kind: backend.Conflict, Op: op, Err: err}
		case 429, 500, 502, 503, 504:
			return &backend.Error{Kind: backend.Transient, Op: op, Err: err}
		case 400, 403, 404:
			return &backend.Error{Kind: backend.Fatal, Op: op, Err: err}
		}
	}
	return &backend.Error{Kind: backend.Transient, Op: op, Err: err}
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func relativeName(name dnsrecord.Name, zone string) string {
	rel := strings.TrimSuffix(string(name), "."+zone)
	if rel == string(name) {
		return rel
	}
	if rel == "" {
		return "@"
	}
	return rel
}

func toRecordType(t dnsrecord.Type) armprivatedns.RecordType {
	switch t {
	case dnsrecord.TypeA:
		return armprivatedns.RecordTypeA
	case dnsrecord.TypeAAAA:
		return armprivatedns.RecordTypeAAAA
	case dnsrecord.TypeSRV:
		return armprivatedns.RecordTypeSRV
	case dnsrecord.TypeTXT:
		return armprivatedns.RecordTypeTXT
	case dnsrecord.TypePTR:
		return armprivatedns.RecordTypePTR
	case dnsrecord.TypeCNAME:
		return armprivatedns.RecordTypeCNAME
	default:
		return armprivatedns.RecordType(t)
	}
}

func mergeForPublish(r dnsrecord.Record, existing dnsrecord.Set) dnsrecord.Set {
	switch r.Type {
	case dnsrecord.TypeSRV, dnsrecord.TypePTR:
		if existing.Contains(r) {
			return existing
		}
		return append(append(dnsrecord.Set(nil), existing...), r)
	default:
		return dnsrecord.Set{r}
	}
}

func removeFrom(r dnsrecord.Record, existing dnsrecord.Set) dnsrecord.Set {
	out := make(dnsrecord.Set, 0, len(existing))
	for _, e := range existing {
		if !e.Equal(r) {
			out = append(out, e)
		}
	}
	return out
}

func toRecordSet(ttl uint32, t dnsrecord.Type, records dnsrecord.Set) armprivatedns.RecordSet {
	props := &armprivatedns.RecordSetProperties{TTL: to.Ptr(int64(ttl))}
	switch t {
	case dnsrecord.TypeA:
		for _, r := range records {
			props.ARecords = append(props.ARecords, &armprivatedns.ARecord{IPv4Address: to.Ptr(r.Data.IP.String())})
		}
	case dnsrecord.TypeAAAA:
		for _, r := range records {
			props.AaaaRecords = append(props.AaaaRecords, &armprivatedns.AaaaRecord{IPv6Address: to.Ptr(r.Data.IP.String())})
		}
	case dnsrecord.TypeCNAME:
		if len(records) > 0 {
			props.CnameRecord = &armprivatedns.CnameRecord{Cname: to.Ptr(string(records[0].Data.Name))}
		}
	case dnsrecord.TypePTR:
		for _, r := range records {
			props.PtrRecords = append(props.PtrRecords, &armprivatedns.PtrRecord{Ptrdname: to.Ptr(string(r.Data.Name))})
		}
	case dnsrecord.TypeSRV:
		for _, r := range records {
			props.SrvRecords = append(props.SrvRecords, &armprivatedns.SrvRecord{
				Priority: to.Ptr(int32(r.Data.SRV.Priority)),
				Weight:   to.Ptr(int32(r.Data.SRV.Weight)),
				Port:     to.Ptr(int32(r.Data.SRV.Port)),
				Target:   to.Ptr(string(r.Data.SRV.Target)),
			})
		}
	case dnsrecord.TypeTXT:
		for _, r := range records {
			props.TxtRecords = append(props.TxtRecords, &armprivatedns.TxtRecord{Value: toPtrSlice(r.Data.TXT)})
		}
	}
	return armprivatedns.RecordSet{Properties: props}
}

func toPtrSlice(ss []string) []*string {
	out := make([]*string, len(ss))
	for i, s := range ss {
		out[i] = to.Ptr(s)
	}
	return out
}

func fromRecordSet(rs armprivatedns.RecordSet, zone string) (dnsrecord.Set, bool) {
	if rs.Properties == nil {
		return nil, false
	}
	name := recordSetName(rs, zone)
	ttl := uint32(derefInt64(rs.Properties.TTL))
	var out dnsrecord.Set
	for _, a := range rs.Properties.ARecords {
		out = append(out, dnsrecord.NewA(name, ttl, net.ParseIP(derefString(a.IPv4Address))))
	}
	for _, a := range rs.Properties.AaaaRecords {
		out = append(out, dnsrecord.NewAAAA(name, ttl, net.ParseIP(derefString(a.IPv6Address))))
	}
	if rs.Properties.CnameRecord != nil {
		out = append(out, dnsrecord.NewCNAME(name, ttl, dnsrecord.Name(derefString(rs.Properties.CnameRecord.Cname))))
	}
	for _, p := range rs.Properties.PtrRecords {
		out = append(out, dnsrecord.NewPTR(name, ttl, dnsrecord.Name(derefString(p.Ptrdname))))
	}
	for _, s := range rs.Properties.SrvRecords {
		out = append(out, dnsrecord.NewSRV(name, ttl,
			uint16(derefInt32(s.Priority)), uint16(derefInt32(s.Weight)), uint16(derefInt32(s.Port)),
			dnsrecord.Name(derefString(s.Target))))
	}
	for _, t := range rs.Properties.TxtRecords {
		vals := make([]string, len(t.Value))
		for i, v := range t.Value {
			vals[i] = derefString(v)
		}
		out = append(out, dnsrecord.NewTXT(name, ttl, vals))
	}
	return out, len(out) > 0
}

func recordSetName(rs armprivatedns.RecordSet, zone string) dnsrecord.Name {
	rel := derefString(rs.Name)
	if rel == "@" || rel == "" {
		return dnsrecord.Name(zone)
	}
	return dnsrecord.Name(rel + "." + zone)
}

func derefInt64(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func derefInt32(p *int32) int32 {
	if p == nil {
		return 0
	}
	return *p
}
