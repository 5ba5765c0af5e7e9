// SPDX-License-Identifier: Apache-2.0

package dnsrecord_test

import (
	"net"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/discourse/ddns-sd/pkg/dnsrecord"
)

func TestDNSRecord(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "dnsrecord Suite")
}

var _ = Describe("Record", func() {
	DescribeTable("#Equal ignores TTL",
		func(a, b Record, expected bool) {
			Expect(a.Equal(b)).To(Equal(expected))
		},
		Entry("same A, different TTL", NewA("web1.h1.svc.example", 60, net.IPv4(10, 0, 0, 5)), NewA("web1.h1.svc.example", 120, net.IPv4(10, 0, 0, 5)), true),
		Entry("different IP", NewA("web1.h1.svc.example", 60, net.IPv4(10, 0, 0, 5)), NewA("web1.h1.svc.example", 60, net.IPv4(10, 0, 0, 6)), false),
		Entry("name case-insensitive", NewCNAME("Alias.svc.example", 60, "web1.h1.svc.example"), NewCNAME("alias.svc.example", 60, "web1.h1.svc.example"), true),
		Entry("different type", Record{Name: "a", Type: TypeA}, Record{Name: "a", Type: TypeAAAA}, false),
	)

	It("builds an empty TXT record as a single empty string", func() {
		r := NewTXT("web1._http._tcp.svc.example", 60, nil)
		Expect(r.Data.TXT).To(Equal([]string{""}))
	})

	It("diffs desired vs observed sets", func() {
		a := NewA("web1.h1.svc.example", 60, net.IPv4(10, 0, 0, 5))
		b := NewA("web2.h1.svc.example", 60, net.IPv4(10, 0, 0, 6))
		desired := Set{a, b}
		observed := Set{a}
		toPublish, toSuppress := Diff(desired, observed)
		Expect(toPublish).To(ConsistOf(b))
		Expect(toSuppress).To(BeEmpty())
	})
})

var _ = Describe("Name", func() {
	It("finds the instance label and parent", func() {
		n := Name("web1._http._tcp.svc.example")
		Expect(n.Label()).To(Equal("web1"))
		Expect(n.Parent()).To(Equal(Name("_http._tcp.svc.example")))
	})
})
