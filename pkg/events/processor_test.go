// SPDX-License-Identifier: Apache-2.0

package events_test

import (
	"context"
	"net"
	"testing"

	"github.com/go-logr/logr/testr"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/discourse/ddns-sd/pkg/backend"
	"github.com/discourse/ddns-sd/pkg/container"
	"github.com/discourse/ddns-sd/pkg/dnsrecord"
	"github.com/discourse/ddns-sd/pkg/events"
	"github.com/discourse/ddns-sd/pkg/labels"
	"github.com/discourse/ddns-sd/pkg/synth"
)

func TestEvents(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "events Suite")
}

type fakeSource struct {
	ch chan events.Event
}

func newFakeSource() *fakeSource { return &fakeSource{ch: make(chan events.Event, 8)} }

func (f *fakeSource) Events(_ context.Context) (<-chan events.Event, error) {
	return f.ch, nil
}

type fakeBackend struct{ cache *backend.Cache }

func newFakeBackend() *fakeBackend { return &fakeBackend{cache: backend.NewCache()} }

func (f *fakeBackend) DNSRecords(_ context.Context) (dnsrecord.Set, error) { return f.cache.All(), nil }
func (f *fakeBackend) PublishRecord(_ context.Context, r dnsrecord.Record) error {
	f.cache.Add(r, "")
	return nil
}
func (f *fakeBackend) SuppressRecord(_ context.Context, r dnsrecord.Record) error {
	f.cache.Remove(r)
	return nil
}
func (f *fakeBackend) SuppressSharedRecord(ctx context.Context, srv dnsrecord.Record) error {
	return backend.SuppressShared(ctx, cacheSharedOps{f.cache}, srv)
}

type cacheSharedOps struct{ c *backend.Cache }

func (o cacheSharedOps) RemoveSRV(_ context.Context, srv dnsrecord.Record) error {
	o.c.Remove(srv)
	return nil
}
func (o cacheSharedOps) ListSRV(_ context.Context, name dnsrecord.Name) (dnsrecord.Set, error) {
	recs, _, _ := o.c.Get(dnsrecord.RRKey{Name: name, Type: dnsrecord.TypeSRV})
	return recs, nil
}
func (o cacheSharedOps) RemoveTXTRRset(_ context.Context, name dnsrecord.Name) error {
	o.c.Delete(dnsrecord.RRKey{Name: name, Type: dnsrecord.TypeTXT})
	return nil
}
func (o cacheSharedOps) RemovePTREntry(_ context.Context, parent, target dnsrecord.Name) error {
	o.c.Remove(dnsrecord.NewPTR(parent, 0, target))
	return nil
}

var _ = Describe("Processor", func() {
	opts := synth.Options{Host: "h1", Zone: "svc.example", TTL: 60}
	svc := container.Snapshot{
		ID: "c1", Name: "web1", IPv4: net.ParseIP("10.0.0.1"),
		Services: []labels.ServiceInstance{{ServiceName: "http", Port: 80, Protocol: labels.ProtocolTCP, Instance: "web1"}},
	}

	It("publishes records on start and withdraws them on a graceful stop", func() {
		src := newFakeSource()
		b := newFakeBackend()
		p := events.New(testr.New(GinkgoT()), b, opts)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- p.Run(ctx, src) }()

		src.ch <- events.Event{Kind: events.Start, Snapshot: svc}
		Eventually(func() dnsrecord.Set {
			recs, _ := b.DNSRecords(context.Background())
			return recs
		}).ShouldNot(BeEmpty())

		stopped := svc
		stopped.Stopped = true
		stopped.ExitCode = 0
		src.ch <- events.Event{Kind: events.Stop, Snapshot: stopped}
		Eventually(func() dnsrecord.Set {
			recs, _ := b.DNSRecords(context.Background())
			return recs
		}).Should(BeEmpty())

		cancel()
		Eventually(done).Should(Receive())
	})

	It("retains records when a container exits non-gracefully", func() {
		src := newFakeSource()
		b := newFakeBackend()
		p := events.New(testr.New(GinkgoT()), b, opts)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = p.Run(ctx, src) }()

		src.ch <- events.Event{Kind: events.Start, Snapshot: svc}
		Eventually(func() dnsrecord.Set {
			recs, _ := b.DNSRecords(context.Background())
			return recs
		}).ShouldNot(BeEmpty())

		crashed := svc
		crashed.Stopped = true
		crashed.ExitCode = 1
		src.ch <- events.Event{Kind: events.Stop, Snapshot: crashed}

		Consistently(func() dnsrecord.Set {
			recs, _ := b.DNSRecords(context.Background())
			return recs
		}).ShouldNot(BeEmpty())
	})

	It("ignores events of unrecognized kind without error", func() {
		src := newFakeSource()
		b := newFakeBackend()
		p := events.New(testr.New(GinkgoT()), b, opts)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- p.Run(ctx, src) }()

		src.ch <- events.Event{Kind: events.Ignored}
		Consistently(func() dnsrecord.Set {
			recs, _ := b.DNSRecords(context.Background())
			return recs
		}).Should(BeEmpty())

		cancel()
		Eventually(done).Should(Receive())
	})

	It("withdraws all published records on graceful Shutdown", func() {
		src := newFakeSource()
		b := newFakeBackend()
		p := events.New(testr.New(GinkgoT()), b, opts)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = p.Run(ctx, src) }()

		src.ch <- events.Event{Kind: events.Start, Snapshot: svc}
		Eventually(func() dnsrecord.Set {
			recs, _ := b.DNSRecords(context.Background())
			return recs
		}).ShouldNot(BeEmpty())

		p.Shutdown(context.Background(), true)
		recs, _ := b.DNSRecords(context.Background())
		Expect(recs).To(BeEmpty())
	})

	It("leaves records in place on a non-withdrawing Shutdown", func() {
		src := newFakeSource()
		b := newFakeBackend()
		p := events.New(testr.New(GinkgoT()), b, opts)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = p.Run(ctx, src) }()

		src.ch <- events.Event{Kind: events.Start, Snapshot: svc}
		Eventually(func() dnsrecord.Set {
			recs, _ := b.DNSRecords(context.Background())
			return recs
		}).ShouldNot(BeEmpty())

		p.Shutdown(context.Background(), false)
		recs, _ := b.DNSRecords(context.Background())
		Expect(recs).NotTo(BeEmpty())
	})
})
