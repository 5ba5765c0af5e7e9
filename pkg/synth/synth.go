// SPDX-License-Identifier: Apache-2.0

// Package synth maps one container's parsed service instances to the
// DNS-SD record group each publishes.
//
// CNAME aliases are published with plain upsert semantics by every
// backend, so when two hosts publish the same alias the last writer wins;
// nothing reconciles the collision across hosts.
package synth

import (
	"fmt"
	"net"

	"github.com/discourse/ddns-sd/pkg/container"
	"github.com/discourse/ddns-sd/pkg/dnsrecord"
	"github.com/discourse/ddns-sd/pkg/labels"
)

// Warning is a non-fatal synthesis problem: the affected service's
// records are omitted but synthesis continues for the rest (mirrors
// labels.ParseError's drop-and-continue discipline).
type Warning struct {
	ServiceName string
	Reason      string
}

func (w Warning) Error() string { return fmt.Sprintf("service %q: %s", w.ServiceName, w.Reason) }

// Options parameterizes synthesis with the agent-wide configuration that
// isn't part of a single container's snapshot.
type Options struct {
	Host          string
	Zone          dnsrecord.Name
	TTL           uint32
	IPv6Only      bool
	DefaultHostIP net.IP // HOST_IP_ADDRESS; nil if unset
}

// Synthesize computes the full desired record set for one container,
// across all of its parsed service instances.
func Synthesize(opts Options, c container.Snapshot) (dnsrecord.Set, []error) {
	var out dnsrecord.Set
	var errs []error
	for _, svc := range c.Services {
		recs, err := synthesizeOne(opts, c, svc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, recs...)
	}
	return out, errs
}

func protocolsFor(p labels.Protocol) []string {
	switch p {
	case labels.ProtocolTCP:
		return []string{"tcp"}
	case labels.ProtocolUDP:
		return []string{"udp"}
	case labels.ProtocolBoth:
		return []string{"tcp", "udp"}
	default:
		return []string{"tcp"}
	}
}

// resolvedAddress is the (host, port) pair a service instance ultimately
// advertises for one protocol, after address-selection has run.
type resolvedAddress struct {
	host net.IP
	host6 net.IP
	port  uint16
	// targetIsHost is true when the target name is "<host>.<zone>"
	// (published with an explicit host IP) rather than
	// "<container>.<host>.<zone>" (container's own address).
	targetIsHost bool
}

// resolveAddress implements the address-selection policy for one
// (container, protocol) pair: prefer a published port's host binding,
// falling back to the configured default host IP, then to the
// container's own address when the port isn't published at all.
func resolveAddress(opts Options, c container.Snapshot, port uint16, proto string) (*resolvedAddress, error) {
	bindings, published := c.PublishedPorts[container.PortProto{Port: port, Proto: proto}]
	if published && len(bindings) > 0 {
		for _, b := range bindings {
			if b.HostIP != nil && !b.HostIP.IsUnspecified() {
				return &resolvedAddress{host: b.HostIP, port: b.HostPort, targetIsHost: true}, nil
			}
		}
		if opts.DefaultHostIP != nil && !opts.DefaultHostIP.IsUnspecified() {
			return &resolvedAddress{host: opts.DefaultHostIP, port: bindings[0].HostPort, targetIsHost: true}, nil
		}
		return nil, fmt.Errorf("port %d/%s is published but has no usable host IP", port, proto)
	}
	// Unpublished: use the container's own addresses.
	return &resolvedAddress{host: c.IPv4, host6: c.IPv6, port: port, targetIsHost: false}, nil
}

func synthesizeOne(opts Options, c container.Snapshot, svc labels.ServiceInstance) (dnsrecord.Set, error) {
	protos := protocolsFor(svc.Protocol)

	resolved := make(map[string]*resolvedAddress, len(protos))
	for _, proto := range protos {
		r, err := resolveAddress(opts, c, svc.Port, proto)
		if err != nil {
			return nil, Warning{ServiceName: svc.ServiceName, Reason: err.Error()}
		}
		resolved[proto] = r
	}

	if svc.Protocol == labels.ProtocolBoth {
		tcp, udp := resolved["tcp"], resolved["udp"]
		if !addressesAgree(tcp, udp) {
			return nil, Warning{ServiceName: svc.ServiceName, Reason: "protocol=both but TCP and UDP publish different addresses"}
		}
	}

	var out dnsrecord.Set
	for _, proto := range protos {
		addr := resolved[proto]
		recs, err := emitForProtocol(opts, c, svc, proto, addr)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

func addressesAgree(tcp, udp *resolvedAddress) bool {
	if tcp == nil || udp == nil {
		return true
	}
	if tcp.targetIsHost != udp.targetIsHost {
		return false
	}
	if tcp.targetIsHost {
		return tcp.host.Equal(udp.host) && tcp.port == udp.port
	}
	return tcp.port == udp.port
}

func emitForProtocol(opts Options, c container.Snapshot, svc labels.ServiceInstance, proto string, addr *resolvedAddress) (dnsrecord.Set, error) {
	var out dnsrecord.Set

	var targetName dnsrecord.Name
	var a4, a6 net.IP
	if addr.targetIsHost {
		targetName = dnsrecord.Name(fmt.Sprintf("%s.%s", opts.Host, opts.Zone))
		a4 = addr.host
		if addr.host.To4() == nil {
			a4, a6 = nil, addr.host
		}
	} else {
		targetName = dnsrecord.Name(fmt.Sprintf("%s.%s.%s", c.Name, opts.Host, opts.Zone))
		a4 = c.IPv4
		a6 = c.IPv6
	}

	if a4 == nil && a6 == nil {
		return nil, Warning{ServiceName: svc.ServiceName, Reason: "no IPv4 or IPv6 address available"}
	}

	// 1. Address RRset (shared across every service instance targeting
	// this same container/host name).
	if a4 != nil && !opts.IPv6Only {
		out = append(out, dnsrecord.NewA(targetName, opts.TTL, a4))
	}
	if a6 != nil {
		out = append(out, dnsrecord.NewAAAA(targetName, opts.TTL, a6))
	}

	instanceName := dnsrecord.Name(fmt.Sprintf("%s._%s._%s.%s", svc.Instance, svc.ServiceName, proto, opts.Zone))
	parentName := dnsrecord.Name(fmt.Sprintf("_%s._%s.%s", svc.ServiceName, proto, opts.Zone))

	// 2. SRV
	out = append(out, dnsrecord.NewSRV(instanceName, opts.TTL, svc.Priority, svc.Weight, addr.port, targetName))

	// 3. TXT, sibling of the SRV record.
	out = append(out, dnsrecord.NewTXT(instanceName, opts.TTL, labels.TXTStrings(svc.Tags)))

	// 4. PTR, shared across every instance of this service from any host.
	out = append(out, dnsrecord.NewPTR(parentName, opts.TTL, instanceName))

	// 5. CNAME aliases.
	for _, alias := range svc.Aliases {
		aliasName := dnsrecord.Name(fmt.Sprintf("%s.%s", alias, opts.Zone))
		out = append(out, dnsrecord.NewCNAME(aliasName, opts.TTL, targetName))
	}

	return out, nil
}
