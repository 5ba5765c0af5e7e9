// SPDX-License-Identifier: Apache-2.0

package labels_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/discourse/ddns-sd/pkg/labels"
)

func TestLabels(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "labels Suite")
}

var _ = Describe("ParseAll", func() {
	It("parses a single HTTP service with one tag", func() {
		instances, errs := ParseAll(map[string]string{
			"org.discourse.service._http.port":    "80",
			"org.discourse.service._http.tag.path": "/",
		}, "web1")
		Expect(errs).To(BeEmpty())
		Expect(instances).To(HaveLen(1))
		svc := instances[0]
		Expect(svc.ServiceName).To(Equal("http"))
		Expect(svc.Port).To(Equal(uint16(80)))
		Expect(svc.Protocol).To(Equal(ProtocolTCP))
		Expect(svc.Instance).To(Equal("web1"))
		Expect(TXTStrings(svc.Tags)).To(Equal([]string{"path=/"}))
	})

	It("is deterministic across repeated parses", func() {
		lbls := map[string]string{
			"org.discourse.service._dns.port":     "53",
			"org.discourse.service._dns.protocol": "udp",
		}
		a, _ := ParseAll(lbls, "resolver1")
		b, _ := ParseAll(lbls, "resolver1")
		Expect(a).To(Equal(b))
	})

	It("drops a service with an invalid port but keeps the rest", func() {
		instances, errs := ParseAll(map[string]string{
			"org.discourse.service._http.port": "99999",
			"org.discourse.service._dns.port":  "53",
		}, "web1")
		Expect(errs).To(HaveLen(1))
		Expect(instances).To(HaveLen(1))
		Expect(instances[0].ServiceName).To(Equal("dns"))
	})

	It("requires a port label to materialize an instance", func() {
		_, errs := ParseAll(map[string]string{
			"org.discourse.service._http.tag.path": "/",
		}, "web1")
		Expect(errs).To(HaveLen(1))
	})

	It("is deterministic across repeated parses with multiple tag.* labels", func() {
		lbls := map[string]string{
			"org.discourse.service._http.port":        "80",
			"org.discourse.service._http.tag.zeta":     "1",
			"org.discourse.service._http.tag.alpha":    "2",
			"org.discourse.service._http.tag.mike":     "3",
			"org.discourse.service._http.tag.bravo":    "4",
		}
		var results [][]string
		for i := 0; i < 20; i++ {
			instances, errs := ParseAll(lbls, "web1")
			Expect(errs).To(BeEmpty())
			results = append(results, TXTStrings(instances[0].Tags))
		}
		for i := 1; i < len(results); i++ {
			Expect(results[i]).To(Equal(results[0]))
		}
		Expect(results[0]).To(Equal([]string{"alpha=2", "bravo=4", "mike=3", "zeta=1"}))
	})

	It("sorts txtvers first", func() {
		instances, errs := ParseAll(map[string]string{
			"org.discourse.service._http.port":        "80",
			"org.discourse.service._http.tag.zeta":     "1",
			"org.discourse.service._http.tag.txtvers":  "1",
			"org.discourse.service._http.tag.alpha":    "2",
		}, "web1")
		Expect(errs).To(BeEmpty())
		Expect(instances[0].Tags[0].Key).To(Equal("txtvers"))
	})

	It("parses boolean tags from the newline-separated tags attribute", func() {
		instances, errs := ParseAll(map[string]string{
			"org.discourse.service._http.port": "80",
			"org.discourse.service._http.tags": "secure\nbeta",
		}, "web1")
		Expect(errs).To(BeEmpty())
		Expect(TXTStrings(instances[0].Tags)).To(ConsistOf("secure", "beta"))
	})

	It("rejects a malformed service name grammar", func() {
		_, errs := ParseAll(map[string]string{
			"org.discourse.service._-bad.port": "80",
		}, "web1")
		Expect(errs).To(HaveLen(1))
	})
})
