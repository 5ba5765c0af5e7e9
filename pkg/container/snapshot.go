// SPDX-License-Identifier: Apache-2.0

// Package container holds a snapshot of a container's DNS-relevant state,
// produced by pkg/dockerwatch from runtime introspection, carried by
// pkg/events and consumed by pkg/synth.
package container

import (
	"net"

	"github.com/discourse/ddns-sd/pkg/labels"
)

// HostBinding is one published-port host binding: a host IP/port pair a
// container-internal port is mapped to.
type HostBinding struct {
	HostIP   net.IP
	HostPort uint16
}

// PortProto identifies a container-internal port together with the
// transport it is published for. Docker publishes TCP and UDP mappings
// of the same port number independently, which is why PublishedPorts is
// keyed on the pair rather than the port alone: it lets the synthesizer
// detect the case where a service declares protocol=both but its TCP and
// UDP host bindings actually resolve to different ports.
type PortProto struct {
	Port  uint16
	Proto string // "tcp" or "udp"
}

// Snapshot is the DNS-relevant state of one container at a point in time.
// Snapshots are value types: the event processor owns a map keyed by
// container ID and replaces entries wholesale rather than mutating them
// in place.
type Snapshot struct {
	ID   string
	Name string

	IPv4 net.IP
	IPv6 net.IP

	// PublishedPorts maps a (container-internal port, protocol) pair to
	// the host bindings it is published under, if any.
	PublishedPorts map[PortProto][]HostBinding

	// Stopped is set once the container has exited.
	Stopped  bool
	ExitCode int

	Services []labels.ServiceInstance
}

// Running reports whether the snapshot represents a container that has
// not yet stopped.
func (s Snapshot) Running() bool {
	return !s.Stopped
}

// ShouldSuppress reports whether a stopped container's records should be
// withdrawn: only a clean exit (code 0) qualifies. A non-zero exit leaves
// records in place so a client still resolving the service sees it listed
// as an operator diagnoses the crash, rather than having it silently
// vanish at the same moment something went wrong.
func (s Snapshot) ShouldSuppress() bool {
	return s.Stopped && s.ExitCode == 0
}
