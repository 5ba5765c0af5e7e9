// SPDX-License-Identifier: Apache-2.0

// Package events implements the single-writer goroutine that consumes
// container-runtime lifecycle events, maintains the container model, and
// keeps the DNS backend converged to it incrementally rather than
// re-reconciling from scratch on every change.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"github.com/discourse/ddns-sd/pkg/backend"
	"github.com/discourse/ddns-sd/pkg/container"
	"github.com/discourse/ddns-sd/pkg/dnsrecord"
	"github.com/discourse/ddns-sd/pkg/metrics"
	"github.com/discourse/ddns-sd/pkg/synth"
)

// Kind classifies one event off the runtime's stream.
type Kind int

const (
	// Start means the container is newly running and should have its
	// records published.
	Start Kind = iota
	// Stop means the container has exited; whether its records are
	// suppressed depends on container.Snapshot.ShouldSuppress.
	Stop
	// Ignored is any runtime event that isn't a start or a stop.
	// Classification is best-effort: an unrecognized event is tallied
	// here rather than erroring.
	Ignored
)

func (k Kind) metricLabel() string {
	switch k {
	case Start:
		return "started"
	case Stop:
		return "stopped"
	default:
		return "ignored"
	}
}

// Event is one container lifecycle transition delivered by a Source.
type Event struct {
	Kind     Kind
	Snapshot container.Snapshot
}

// Source streams container lifecycle events from a container runtime.
// pkg/dockerwatch is the concrete implementation against the Docker
// Engine API; Run consumes whatever Source it's given, so the
// processor itself has no runtime-specific code.
type Source interface {
	Events(ctx context.Context) (<-chan Event, error)
}

// Processor is the single writer that owns a backend.Backend: every
// mutation to the backend happens on its goroutine. The map of records
// it has published is additionally guarded by mu, since Shutdown reads
// and clears it from the caller's goroutine.
type Processor struct {
	log     logr.Logger
	backend backend.Backend
	opts    synth.Options

	mu        sync.Mutex
	published map[string]dnsrecord.Set // container ID -> records currently published for it
}

// New returns a Processor that synthesizes records with opts and
// mutates b.
func New(log logr.Logger, b backend.Backend, opts synth.Options) *Processor {
	return &Processor{
		log:       log.WithName("events"),
		backend:   b,
		opts:      opts,
		published: make(map[string]dnsrecord.Set),
	}
}

// Run consumes events from src until ctx is done or the event channel
// closes. It is the single writer for p.backend; callers must not
// mutate the backend concurrently from elsewhere. A run that ends
// because ctx was cancelled returns ctx.Err(); a closed source returns
// nil, both treated as a normal exit by callers doing graceful shutdown.
func (p *Processor) Run(ctx context.Context, src Source) error {
	ch, err := src.Events(ctx)
	if err != nil {
		return fmt.Errorf("starting event source: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			p.handle(ctx, ev)
		}
	}
}

func (p *Processor) handle(ctx context.Context, ev Event) {
	metrics.RuntimeEventsTotal.WithLabelValues(ev.Kind.metricLabel()).Inc()
	switch ev.Kind {
	case Start:
		p.handleStart(ctx, ev.Snapshot)
	case Stop:
		p.handleStop(ctx, ev.Snapshot)
	case Ignored:
		// best-effort classification, nothing to do
	}
}

func (p *Processor) handleStart(ctx context.Context, c container.Snapshot) {
	recs, errs := synth.Synthesize(p.opts, c)
	for _, err := range errs {
		p.log.Info("dropping service on container start", "container", c.Name, "error", err.Error())
	}

	for _, r := range recs {
		rrtype := string(r.Type)
		err := metrics.ObserveBackendOp("publish", rrtype, func() error {
			return backend.WithRetry(ctx, p.log, "publish", backend.Classify, nil, func(ctx context.Context) error {
				return p.backend.PublishRecord(ctx, r)
			})
		})
		if err != nil {
			p.log.Error(err, "failed to publish record on container start", "container", c.Name, "name", string(r.Name), "type", string(r.Type))
			continue
		}
	}
	p.mu.Lock()
	p.published[c.ID] = recs
	p.mu.Unlock()
	p.log.Info("published records for started container", "container", c.Name, "count", len(recs))
}

func (p *Processor) handleStop(ctx context.Context, c container.Snapshot) {
	p.mu.Lock()
	recs, ok := p.published[c.ID]
	p.mu.Unlock()
	if !ok {
		// We never published anything for this container (e.g. it had no
		// service labels), nothing to retain or withdraw.
		return
	}

	if !c.ShouldSuppress() {
		// Non-graceful exit: retain the records so they keep pointing at
		// a now-unreachable instance, which is the signal an operator or
		// monitoring system watches for.
		p.log.Info("retaining records for non-gracefully stopped container", "container", c.Name, "exit_code", c.ExitCode)
		return
	}

	p.suppressAll(ctx, c.Name, recs)
	p.mu.Lock()
	delete(p.published, c.ID)
	p.mu.Unlock()
	p.log.Info("suppressed records for stopped container", "container", c.Name, "count", len(recs))
}

// suppressAll withdraws every record in recs, routing SRV through the
// shared-removal path (which also drops the sibling TXT RRset and PTR
// entry once nothing else references the name) and skipping TXT/PTR
// directly for the same reason.
func (p *Processor) suppressAll(ctx context.Context, containerName string, recs dnsrecord.Set) {
	for _, r := range recs {
		rrtype := string(r.Type)
		var err error
		switch r.Type {
		case dnsrecord.TypeSRV:
			err = metrics.ObserveBackendOp("suppress", rrtype, func() error {
				return backend.WithRetry(ctx, p.log, "suppress_shared", backend.Classify, nil, func(ctx context.Context) error {
					return p.backend.SuppressSharedRecord(ctx, r)
				})
			})
		case dnsrecord.TypeTXT, dnsrecord.TypePTR:
			continue
		default:
			err = metrics.ObserveBackendOp("suppress", rrtype, func() error {
				return backend.WithRetry(ctx, p.log, "suppress", backend.Classify, nil, func(ctx context.Context) error {
					return p.backend.SuppressRecord(ctx, r)
				})
			})
		}
		if err != nil {
			p.log.Error(err, "failed to suppress record on container stop", "container", containerName, "name", string(r.Name), "type", string(r.Type))
		}
	}
}

// Shutdown implements graceful withdraw: when withdraw is
// true (a "terminate" signal), every record this process has published
// is suppressed; when false (a "restart" signal), Shutdown returns
// immediately and leaves everything in place for the next process to
// reconcile against.
func (p *Processor) Shutdown(ctx context.Context, withdraw bool) {
	if !withdraw {
		return
	}
	p.mu.Lock()
	snapshot := make(map[string]dnsrecord.Set, len(p.published))
	for id, recs := range p.published {
		snapshot[id] = recs
	}
	p.mu.Unlock()

	for id, recs := range snapshot {
		p.suppressAll(ctx, id, recs)
		p.mu.Lock()
		delete(p.published, id)
		p.mu.Unlock()
	}
	p.log.Info("withdrew all records for graceful shutdown", "containers", len(snapshot))
}
