// SPDX-License-Identifier: Apache-2.0

package synth_test

import (
	"net"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/discourse/ddns-sd/pkg/container"
	"github.com/discourse/ddns-sd/pkg/dnsrecord"
	"github.com/discourse/ddns-sd/pkg/labels"
	. "github.com/discourse/ddns-sd/pkg/synth"
)

func TestSynth(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "synth Suite")
}

func baseOpts() Options {
	return Options{Host: "h1", Zone: "svc.example", TTL: 60}
}

var _ = Describe("Synthesize", func() {
	It("matches scenario 1: unpublished http service", func() {
		c := container.Snapshot{
			Name: "web1",
			IPv4: net.IPv4(10, 0, 0, 5),
			Services: []labels.ServiceInstance{
				{ServiceName: "http", Port: 80, Protocol: labels.ProtocolTCP, Instance: "web1",
					Tags: []labels.Tag{{Key: "path", Value: "/"}}},
			},
		}
		recs, errs := Synthesize(baseOpts(), c)
		Expect(errs).To(BeEmpty())
		Expect(recs).To(ConsistOf(
			dnsrecord.NewA("web1.h1.svc.example", 60, net.IPv4(10, 0, 0, 5)),
			dnsrecord.NewSRV("web1._http._tcp.svc.example", 60, 0, 0, 80, "web1.h1.svc.example"),
			dnsrecord.NewTXT("web1._http._tcp.svc.example", 60, []string{"path=/"}),
			dnsrecord.NewPTR("_http._tcp.svc.example", 60, "web1._http._tcp.svc.example"),
		))
	})

	It("matches scenario 3: udp-only dns service emits no _tcp name", func() {
		c := container.Snapshot{
			Name: "resolver1",
			IPv4: net.IPv4(10, 0, 0, 9),
			Services: []labels.ServiceInstance{
				{ServiceName: "dns", Port: 53, Protocol: labels.ProtocolUDP, Instance: "resolver1"},
			},
		}
		recs, errs := Synthesize(baseOpts(), c)
		Expect(errs).To(BeEmpty())
		for _, r := range recs {
			Expect(string(r.Name)).NotTo(ContainSubstring("_tcp"))
		}
		Expect(recs).To(ContainElement(dnsrecord.NewSRV("resolver1._dns._udp.svc.example", 60, 0, 0, 53, "resolver1.h1.svc.example")))
	})

	It("matches scenario 4: published port uses host-level target, no per-container A", func() {
		c := container.Snapshot{
			Name: "web1",
			IPv4: net.IPv4(10, 0, 0, 5),
			PublishedPorts: map[container.PortProto][]container.HostBinding{
				{Port: 8080, Proto: "tcp"}: {{HostIP: net.IPv4(203, 0, 113, 7), HostPort: 80}},
			},
			Services: []labels.ServiceInstance{
				{ServiceName: "http", Port: 8080, Protocol: labels.ProtocolTCP, Instance: "web1"},
			},
		}
		recs, errs := Synthesize(baseOpts(), c)
		Expect(errs).To(BeEmpty())
		Expect(recs).To(ContainElement(dnsrecord.NewA("h1.svc.example", 60, net.IPv4(203, 0, 113, 7))))
		Expect(recs).To(ContainElement(dnsrecord.NewSRV("web1._http._tcp.svc.example", 60, 0, 0, 80, "h1.svc.example")))
		for _, r := range recs {
			if r.Type == dnsrecord.TypeA {
				Expect(string(r.Name)).To(Equal("h1.svc.example"))
			}
		}
	})

	It("drops a service with a published port and no usable host IP", func() {
		c := container.Snapshot{
			Name: "web1",
			PublishedPorts: map[container.PortProto][]container.HostBinding{
				{Port: 80, Proto: "tcp"}: {{HostIP: net.IPv4zero, HostPort: 8080}},
			},
			Services: []labels.ServiceInstance{
				{ServiceName: "http", Port: 80, Protocol: labels.ProtocolTCP, Instance: "web1"},
			},
		}
		recs, errs := Synthesize(baseOpts(), c)
		Expect(errs).To(HaveLen(1))
		Expect(recs).To(BeEmpty())
	})

	It("suppresses A records when IPv6Only is set", func() {
		opts := baseOpts()
		opts.IPv6Only = true
		c := container.Snapshot{
			Name: "web1",
			IPv4: net.IPv4(10, 0, 0, 5),
			IPv6: net.ParseIP("fd00::5"),
			Services: []labels.ServiceInstance{
				{ServiceName: "http", Port: 80, Protocol: labels.ProtocolTCP, Instance: "web1"},
			},
		}
		recs, _ := Synthesize(opts, c)
		for _, r := range recs {
			Expect(r.Type).NotTo(Equal(dnsrecord.TypeA))
		}
		Expect(recs).To(ContainElement(dnsrecord.NewAAAA("web1.h1.svc.example", 60, net.ParseIP("fd00::5"))))
	})

	It("treats protocol=both with disagreeing addresses as an error", func() {
		c := container.Snapshot{
			Name: "web1",
			PublishedPorts: map[container.PortProto][]container.HostBinding{
				{Port: 80, Proto: "tcp"}: {{HostIP: net.IPv4(203, 0, 113, 7), HostPort: 80}},
				{Port: 80, Proto: "udp"}: {{HostIP: net.IPv4(203, 0, 113, 8), HostPort: 80}},
			},
			Services: []labels.ServiceInstance{
				{ServiceName: "http", Port: 80, Protocol: labels.ProtocolBoth, Instance: "web1"},
			},
		}
		_, errs := Synthesize(baseOpts(), c)
		Expect(errs).To(HaveLen(1))
	})

	It("emits a CNAME alias pointing at the service target", func() {
		c := container.Snapshot{
			Name: "web1",
			IPv4: net.IPv4(10, 0, 0, 5),
			Services: []labels.ServiceInstance{
				{ServiceName: "http", Port: 80, Protocol: labels.ProtocolTCP, Instance: "web1", Aliases: []string{"www"}},
			},
		}
		recs, _ := Synthesize(baseOpts(), c)
		Expect(recs).To(ContainElement(dnsrecord.NewCNAME("www.svc.example", 60, "web1.h1.svc.example")))
	})
})
