// SPDX-License-Identifier: Apache-2.0

package backend_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	. "github.com/discourse/ddns-sd/pkg/backend"
	"github.com/discourse/ddns-sd/pkg/dnsrecord"
)

type fakeSharedOps struct {
	srv         dnsrecord.Set
	txtRemoved  bool
	ptrRemovals []dnsrecord.Name
}

func (f *fakeSharedOps) RemoveSRV(_ context.Context, srv dnsrecord.Record) error {
	filtered := f.srv[:0]
	for _, r := range f.srv {
		if !r.Equal(srv) {
			filtered = append(filtered, r)
		}
	}
	f.srv = filtered
	return nil
}

func (f *fakeSharedOps) ListSRV(_ context.Context, name dnsrecord.Name) (dnsrecord.Set, error) {
	var out dnsrecord.Set
	for _, r := range f.srv {
		if r.Name.Equal(name) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSharedOps) RemoveTXTRRset(_ context.Context, name dnsrecord.Name) error {
	f.txtRemoved = true
	return nil
}

func (f *fakeSharedOps) RemovePTREntry(_ context.Context, parent, target dnsrecord.Name) error {
	f.ptrRemovals = append(f.ptrRemovals, target)
	return nil
}

var _ = Describe("SuppressShared", func() {
	It("removes TXT and PTR entry when no SRV remains", func() {
		srv := dnsrecord.NewSRV("web1._http._tcp.svc.example", 60, 0, 0, 80, "web1.h1.svc.example")
		ops := &fakeSharedOps{srv: dnsrecord.Set{srv}}
		Expect(SuppressShared(context.Background(), ops, srv)).To(Succeed())
		Expect(ops.txtRemoved).To(BeTrue())
		Expect(ops.ptrRemovals).To(ConsistOf(dnsrecord.Name("web1._http._tcp.svc.example")))
	})

	It("keeps TXT and PTR entry when another SRV at the same name remains", func() {
		// Two hosts independently published an SRV under the same
		// instance name (e.g. after an alias/instance-name collision);
		// the RRset at that name holds both targets.
		srv1 := dnsrecord.NewSRV("web1._http._tcp.svc.example", 60, 0, 0, 80, "web1.h1.svc.example")
		srv2 := dnsrecord.NewSRV("web1._http._tcp.svc.example", 60, 0, 0, 80, "web1.h2.svc.example")
		ops := &fakeSharedOps{srv: dnsrecord.Set{srv1, srv2}}
		Expect(SuppressShared(context.Background(), ops, srv1)).To(Succeed())
		Expect(ops.txtRemoved).To(BeFalse())
		Expect(ops.ptrRemovals).To(BeEmpty())
		Expect(ops.srv).To(ConsistOf(srv2))
	})
})
