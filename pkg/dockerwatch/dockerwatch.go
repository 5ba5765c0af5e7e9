// SPDX-License-Identifier: Apache-2.0

// Package dockerwatch implements events.Source against the Docker
// Engine API: it lists every running container at startup, then
// follows the container event stream, translating "start" and "die"
// into events.Event values the way the pack's CoreDNS Docker-discovery
// plugin translates the same two events into DNS record updates.
package dockerwatch

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	dockerevents "github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/go-logr/logr"

	ddnscontainer "github.com/discourse/ddns-sd/pkg/container"
	"github.com/discourse/ddns-sd/pkg/events"
	"github.com/discourse/ddns-sd/pkg/labels"
)

// API is the subset of the Docker Engine client this package depends
// on, narrowed for testability.
type API interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	Events(ctx context.Context, options dockerevents.ListOptions) (<-chan dockerevents.Message, <-chan error)
}

// Watcher adapts a Docker Engine client to events.Source.
type Watcher struct {
	client API
	log    logr.Logger
}

// New returns a Watcher over client.
func New(log logr.Logger, apiClient API) *Watcher {
	return &Watcher{client: apiClient, log: log.WithName("dockerwatch")}
}

var _ events.Source = (*Watcher)(nil)

// ListRunning returns a Snapshot for every currently-running container,
// for the startup reconcile pass to diff against the backend's observed
// state before the event stream starts delivering incremental updates.
func (w *Watcher) ListRunning(ctx context.Context) ([]ddnscontainer.Snapshot, error) {
	existing, err := w.client.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing running containers: %w", err)
	}
	snaps := make([]ddnscontainer.Snapshot, 0, len(existing))
	for _, c := range existing {
		snap, err := w.inspect(ctx, c.ID)
		if err != nil {
			w.log.Error(err, "inspecting running container at startup", "container", c.ID)
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// Events lists every currently-running container as a synthetic Start
// event, then follows the live event stream, translating container
// "start" and "die" actions into events.Event and re-inspecting the
// container each time so the emitted snapshot is always current.
func (w *Watcher) Events(ctx context.Context) (<-chan events.Event, error) {
	out := make(chan events.Event)

	existing, err := w.client.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing running containers: %w", err)
	}

	// Subscribed to every container event, not just start/die: anything
	// else is classified Ignored and tallied rather than filtered out
	// server-side, so the ignored-event count reflects what the runtime
	// actually emits.
	filterArgs := filters.NewArgs(filters.Arg("type", string(dockerevents.ContainerEventType)))
	stream, errCh := w.client.Events(ctx, dockerevents.ListOptions{Filters: filterArgs})

	go func() {
		defer close(out)
		for _, c := range existing {
			snap, err := w.inspect(ctx, c.ID)
			if err != nil {
				w.log.Error(err, "inspecting running container at startup", "container", c.ID)
				continue
			}
			select {
			case out <- events.Event{Kind: events.Start, Snapshot: snap}:
			case <-ctx.Done():
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case err := <-errCh:
				if err != nil {
					w.log.Error(err, "docker event stream error")
				}
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				w.handle(ctx, msg, out)
			}
		}
	}()

	return out, nil
}

func (w *Watcher) handle(ctx context.Context, msg dockerevents.Message, out chan<- events.Event) {
	switch msg.Action {
	case dockerevents.ActionStart:
		snap, err := w.inspect(ctx, msg.Actor.ID)
		if err != nil {
			w.log.Error(err, "inspecting started container", "container", msg.Actor.ID)
			return
		}
		send(ctx, out, events.Event{Kind: events.Start, Snapshot: snap})
	case dockerevents.ActionDie:
		snap, err := w.inspect(ctx, msg.Actor.ID)
		if err != nil {
			// The container may already be gone by the time we inspect it;
			// fall back to what the event itself told us.
			snap = snapshotFromDieEvent(msg)
		}
		snap.Stopped = true
		send(ctx, out, events.Event{Kind: events.Stop, Snapshot: snap})
	default:
		send(ctx, out, events.Event{Kind: events.Ignored})
	}
}

func send(ctx context.Context, out chan<- events.Event, ev events.Event) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}

func snapshotFromDieEvent(msg dockerevents.Message) ddnscontainer.Snapshot {
	exitCode, _ := strconv.Atoi(msg.Actor.Attributes["exitCode"])
	return ddnscontainer.Snapshot{
		ID:       msg.Actor.ID,
		Name:     strings.TrimPrefix(msg.Actor.Attributes["name"], "/"),
		ExitCode: exitCode,
	}
}

// inspect fetches a container's current state and builds the Snapshot
// pkg/synth consumes: addresses, published ports, and parsed service
// labels.
func (w *Watcher) inspect(ctx context.Context, id string) (ddnscontainer.Snapshot, error) {
	info, err := w.client.ContainerInspect(ctx, id)
	if err != nil {
		return ddnscontainer.Snapshot{}, err
	}

	name := strings.TrimPrefix(info.Name, "/")
	services, errs := labels.ParseAll(info.Config.Labels, name)
	for _, err := range errs {
		w.log.Info("dropping invalid service label", "container", name, "error", err.Error())
	}

	snap := ddnscontainer.Snapshot{
		ID:             info.ID,
		Name:           name,
		PublishedPorts: publishedPorts(info),
		Services:       services,
	}
	if info.State != nil {
		snap.Stopped = !info.State.Running
		snap.ExitCode = info.State.ExitCode
	}
	snap.IPv4, snap.IPv6 = containerAddresses(info)
	return snap, nil
}

func containerAddresses(info container.InspectResponse) (net.IP, net.IP) {
	if info.NetworkSettings == nil {
		return nil, nil
	}
	if info.NetworkSettings.IPAddress != "" {
		return net.ParseIP(info.NetworkSettings.IPAddress), parseIfSet(info.NetworkSettings.GlobalIPv6Address)
	}
	for _, net4 := range info.NetworkSettings.Networks {
		if net4.IPAddress != "" {
			return net.ParseIP(net4.IPAddress), parseIfSet(net4.GlobalIPv6Address)
		}
	}
	return nil, nil
}

func parseIfSet(s string) net.IP {
	if s == "" {
		return nil
	}
	return net.ParseIP(s)
}

func publishedPorts(info container.InspectResponse) map[ddnscontainer.PortProto][]ddnscontainer.HostBinding {
	if info.NetworkSettings == nil {
		return nil
	}
	out := make(map[ddnscontainer.PortProto][]ddnscontainer.HostBinding)
	for portProto, bindings := range info.NetworkSettings.Ports {
		port, proto := splitPortProto(string(portProto))
		if port == 0 {
			continue
		}
		key := ddnscontainer.PortProto{Port: port, Proto: proto}
		for _, b := range bindings {
			hostPort, _ := strconv.Atoi(b.HostPort)
			out[key] = append(out[key], ddnscontainer.HostBinding{
				HostIP:   parseIfSet(b.HostIP),
				HostPort: uint16(hostPort),
			})
		}
	}
	return out
}

func splitPortProto(s string) (uint16, string) {
	parts := strings.SplitN(s, "/", 2)
	port, err := strconv.Atoi(parts[0])
	if err != nil || len(parts) != 2 {
		return 0, ""
	}
	return uint16(port), parts[1]
}
