// SPDX-License-Identifier: Apache-2.0

// Package route53 implements a DNS backend on top of Amazon Route 53:
// every mutation is submitted as a ChangeResourceRecordSets request and
// the provider's own eventual consistency (a pending change) is what
// backend.WithRetry's Conflict path waits out.
package route53

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	smithy "github.com/aws/smithy-go"

	"github.com/discourse/ddns-sd/pkg/backend"
	"github.com/discourse/ddns-sd/pkg/dnsrecord"
)

// API is the subset of the Route 53 SDK client this package depends on,
// narrowed for testability.
type API interface {
	ChangeResourceRecordSets(ctx context.Context, in *route53.ChangeResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error)
	ListResourceRecordSets(ctx context.Context, in *route53.ListResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ListResourceRecordSetsOutput, error)
}

// Backend adapts API to backend.Backend, targeting a single hosted zone.
type Backend struct {
	client API
	zoneID string
}

// New returns a Backend that manages records in the given hosted zone.
func New(client API, hostedZoneID string) *Backend {
	return &Backend{client: client, zoneID: hostedZoneID}
}

// DNSRecords lists every managed-type record in the hosted zone.
func (b *Backend) DNSRecords(ctx context.Context) (dnsrecord.Set, error) {
	var out dnsrecord.Set
	in := &route53.ListResourceRecordSetsInput{HostedZoneId: aws.String(b.zoneID)}
	for {
		resp, err := b.client.ListResourceRecordSets(ctx, in)
		if err != nil {
			return nil, classifyErr("list", err)
		}
		for _, rs := range resp.ResourceRecordSets {
			recs, ok := fromResourceRecordSet(rs)
			if ok {
				out = append(out, recs...)
			}
		}
		if !resp.IsTruncated {
			break
		}
		in.StartRecordName = resp.NextRecordName
		in.StartRecordType = resp.NextRecordType
		in.StartRecordIdentifier = resp.NextRecordIdentifier
	}
	return out, nil
}

// PublishRecord upserts the RRset r belongs to; A/AAAA/CNAME/TXT replace
// the whole RRset at (name,type), SRV and PTR are unioned with whatever
// is already published there since multiple containers or hosts can
// share a PTR or, less commonly, an SRV name.
func (b *Backend) PublishRecord(ctx context.Context, r dnsrecord.Record) error {
	rrset, err := b.currentRRset(ctx, r.Name, r.Type)
	if err != nil {
		return err
	}
	merged := mergeForPublish(r, rrset)
	return b.submit(ctx, "publish", types.ChangeActionUpsert, toResourceRecordSet(r.Name, r.Type, r.TTL, merged))
}

// SuppressRecord removes exactly r from its RRset, deleting the RRset
// outright once it's empty (Route 53 has no notion of an empty RRset).
func (b *Backend) SuppressRecord(ctx context.Context, r dnsrecord.Record) error {
	rrset, err := b.currentRRset(ctx, r.Name, r.Type)
	if err != nil {
		return err
	}
	remaining := removeFrom(r, rrset)
	if len(remaining) == 0 {
		return b.submitDelete(ctx, r.Name, r.Type, rrset)
	}
	return b.submit(ctx, "suppress", types.ChangeActionUpsert, toResourceRecordSet(r.Name, r.Type, r.TTL, remaining))
}

// SuppressSharedRecord implements the shared-SRV cleanup state machine
// against Route 53's flat record model: no multi-statement transaction
// is available, so each step is its own change batch, composed by
// backend.SuppressShared.
func (b *Backend) SuppressSharedRecord(ctx context.Context, srv dnsrecord.Record) error {
	return backend.SuppressShared(ctx, sharedOps{b}, srv)
}

func (b *Backend) currentRRset(ctx context.Context, name dnsrecord.Name, t dnsrecord.Type) (dnsrecord.Set, error) {
	fqdn := awsName(name)
	in := &route53.ListResourceRecordSetsInput{
		HostedZoneId:    aws.String(b.zoneID),
		StartRecordName: aws.String(fqdn),
		StartRecordType: types.RRType(t),
		MaxItems:        aws.Int32(1),
	}
	resp, err := b.client.ListResourceRecordSets(ctx, in)
	if err != nil {
		return nil, classifyErr("list", err)
	}
	for _, rs := range resp.ResourceRecordSets {
		if strings.EqualFold(aws.ToString(rs.Name), fqdn+".") && string(rs.Type) == string(t) {
			recs, _ := fromResourceRecordSet(rs)
			return recs, nil
		}
	}
	return nil, nil
}

// sharedOps adapts Backend to backend.SharedRemovalOps for the
// shared-SRV cleanup state machine; Route 53 has no transactions, so
// each of the four steps is its own change batch.
type sharedOps struct{ b *Backend }

func (s sharedOps) RemoveSRV(ctx context.Context, srv dnsrecord.Record) error {
	return s.b.SuppressRecord(ctx, srv)
}

func (s sharedOps) ListSRV(ctx context.Context, name dnsrecord.Name) (dnsrecord.Set, error) {
	return s.b.currentRRset(ctx, name, dnsrecord.TypeSRV)
}

func (s sharedOps) RemoveTXTRRset(ctx context.Context, name dnsrecord.Name) error {
	existing, err := s.b.currentRRset(ctx, name, dnsrecord.TypeTXT)
	if err != nil || len(existing) == 0 {
		return err
	}
	return s.b.submitDelete(ctx, name, dnsrecord.TypeTXT, existing)
}

func (s sharedOps) RemovePTREntry(ctx context.Context, parent, target dnsrecord.Name) error {
	return s.b.SuppressRecord(ctx, dnsrecord.NewPTR(parent, 0, target))
}

func (b *Backend) submit(ctx context.Context, op string, action types.ChangeAction, rs types.ResourceRecordSet) error {
	_, err := b.client.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(b.zoneID),
		ChangeBatch: &types.ChangeBatch{
			Changes: []types.Change{{Action: action, ResourceRecordSet: &rs}},
		},
	})
	if err != nil {
		return classifyErr(op, err)
	}
	return nil
}

func (b *Backend) submitDelete(ctx context.Context, name dnsrecord.Name, t dnsrecord.Type, existing dnsrecord.Set) error {
	if len(existing) == 0 {
		return nil
	}
	ttl := existing[0].TTL
	rs := toResourceRecordSet(name, t, ttl, existing)
	return b.submit(ctx, "suppress", types.ChangeActionDelete, rs)
}

// classifyErr maps Route 53 API errors onto backend.FailureKind: a
// pending prior change on the zone is a Conflict, throttling and
// networking errors are Transient, everything else (bad input, access
// denied) is Fatal.
func classifyErr(op string, err error) error {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "PriorRequestNotComplete":
			return &backend.Error{Kind: backend.Conflict, Op: op, Err: err}
		case "Throttling", "ThrottlingException":
			return &backend.Error{Kind: backend.Transient, Op: op, Err: err}
		case "InvalidChangeBatch", "InvalidInput", "NoSuchHostedZone", "AccessDenied":
			return &backend.Error{Kind: backend.Fatal, Op: op, Err: err}
		}
	}
	return &backend.Error{Kind: backend.Transient, Op: op, Err: err}
}

// awsName renders a zone-relative name as the fully-qualified,
// trailing-dot-free form Route 53's API expects in list/change requests.
func awsName(name dnsrecord.Name) string {
	return strings.TrimSuffix(string(name), ".")
}

func netParseIP(s string) net.IP {
	return net.ParseIP(s)
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

func toResourceRecordSet(name dnsrecord.Name, t dnsrecord.Type, ttl uint32, records dnsrecord.Set) types.ResourceRecordSet {
	rrs := make([]types.ResourceRecord, 0, len(records))
	for _, r := range records {
		rrs = append(rrs, types.ResourceRecord{Value: aws.String(valueFor(r))})
	}
	return types.ResourceRecordSet{
		Name:            aws.String(awsName(name)),
		Type:            types.RRType(t),
		TTL:             aws.Int64(int64(ttl)),
		ResourceRecords: rrs,
	}
}

func valueFor(r dnsrecord.Record) string {
	switch r.Type {
	case dnsrecord.TypeA, dnsrecord.TypeAAAA:
		return r.Data.IP.String()
	case dnsrecord.TypeCNAME, dnsrecord.TypePTR:
		return string(r.Data.Name) + "."
	case dnsrecord.TypeSRV:
		return fmt.Sprintf("%d %d %d %s.", r.Data.SRV.Priority, r.Data.SRV.Weight, r.Data.SRV.Port, r.Data.SRV.Target)
	case dnsrecord.TypeTXT:
		return quoteTXT(r.Data.TXT)
	default:
		return r.Data.Raw
	}
}

func quoteTXT(parts []string) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(p, `"`, `\"`))
		b.WriteByte('"')
	}
	return b.String()
}

func fromResourceRecordSet(rs types.ResourceRecordSet) (dnsrecord.Set, bool) {
	name := dnsrecord.Name(strings.TrimSuffix(aws.ToString(rs.Name), "."))
	ttl := uint32(aws.ToInt64(rs.TTL))
	var out dnsrecord.Set
	for _, rr := range rs.ResourceRecords {
		val := aws.ToString(rr.Value)
		rec, ok := parseValue(name, types.RRType(rs.Type), ttl, val)
		if ok {
			out = append(out, rec)
		}
	}
	return out, len(out) > 0
}

func parseValue(name dnsrecord.Name, t types.RRType, ttl uint32, val string) (dnsrecord.Record, bool) {
	switch dnsrecord.Type(t) {
	case dnsrecord.TypeA:
		return dnsrecord.NewA(name, ttl, netParseIP(val)), true
	case dnsrecord.TypeAAAA:
		return dnsrecord.NewAAAA(name, ttl, netParseIP(val)), true
	case dnsrecord.TypeCNAME:
		return dnsrecord.NewCNAME(name, ttl, dnsrecord.Name(strings.TrimSuffix(val, "."))), true
	case dnsrecord.TypePTR:
		return dnsrecord.NewPTR(name, ttl, dnsrecord.Name(strings.TrimSuffix(val, "."))), true
	case dnsrecord.TypeSRV:
		fields := strings.Fields(val)
		if len(fields) != 4 {
			return dnsrecord.Record{}, false
		}
		prio, _ := strconv.Atoi(fields[0])
		weight, _ := strconv.Atoi(fields[1])
		port, _ := strconv.Atoi(fields[2])
		target := dnsrecord.Name(strings.TrimSuffix(fields[3], "."))
		return dnsrecord.NewSRV(name, ttl, uint16(prio), uint16(weight), uint16(port), target), true
	case dnsrecord.TypeTXT:
		return dnsrecord.NewTXT(name, ttl, unquoteTXT(val)), true
	default:
		return dnsrecord.Record{}, false
	}
}

func unquoteTXT(val string) []string {
	var parts []string
	for _, seg := range strings.Split(val, `" "`) {
		seg = strings.Trim(seg, `"`)
		parts = append(parts, strings.ReplaceAll(seg, `\"`, `"`))
	}
	return parts
}
