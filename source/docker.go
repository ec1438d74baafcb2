/*
Copyright 2017 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package source

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	log "github.com/sirupsen/logrus"

	"github.com/stedrow/sherpa-dns/endpoint"
)

// dockerClient is the subset of *client.Client this source uses, kept as an
// interface so tests can substitute a fake.
type dockerClient interface {
	ContainerList(ctx context.Context, opts container.ListOptions) ([]container.Summary, error)
	Events(ctx context.Context, opts events.ListOptions) (<-chan events.Message, <-chan error)
}

// Config controls label parsing for DockerSource.
type Config struct {
	LabelPrefix      string
	LabelFilter      string
	ProxiedByDefault bool
	// DebounceInterval coalesces a burst of container events into a single
	// Nudge. Defaults to 2s if zero.
	DebounceInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.LabelPrefix == "" {
		c.LabelPrefix = "sherpa.dns"
	}
	if c.DebounceInterval == 0 {
		c.DebounceInterval = 2 * time.Second
	}
	return c
}

// DockerSource implements Source against a Docker-compatible daemon.
type DockerSource struct {
	client dockerClient
	cfg    Config
	log    *log.Entry

	mu      sync.Mutex
	started bool
}

// ClientOption mutates the underlying *client.Client before it is used,
// e.g. to point at a non-default socket. Matches the functional-options
// shape used to construct the real Docker SDK client.
type ClientOption func(*client.Client) error

// NewDockerSource builds a client for a Docker-compatible daemon over its
// default transport (respecting DOCKER_HOST) and returns a Source reading the
// sherpa.dns/* label schema. No connection is made until the first call.
func NewDockerSource(logger *log.Entry, cfg Config, opts ...ClientOption) (*DockerSource, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(cli); err != nil {
			return nil, err
		}
	}
	return newDockerSourceWithClient(cli, logger, cfg), nil
}

func newDockerSourceWithClient(c dockerClient, logger *log.Entry, cfg Config) *DockerSource {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &DockerSource{
		client: c,
		cfg:    cfg.withDefaults(),
		log:    logger.WithField("component", "source.docker"),
	}
}

// Snapshot lists all running containers and projects the sherpa.dns/* labels
// into desired endpoints, deduplicated by (dns_name, record_type).
func (s *DockerSource) Snapshot(ctx context.Context) ([]*endpoint.Endpoint, error) {
	containers, err := s.client.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, err
	}

	desired := map[endpoint.Key]*endpoint.Endpoint{}
	conflicted := map[endpoint.Key]bool{}

	for _, c := range containers {
		if !matchLabelFilter(c.Labels, s.cfg.LabelFilter) {
			continue
		}
		ep, ok := s.endpointFromContainer(c)
		if !ok {
			continue
		}
		key := ep.Key()
		existing, ok := desired[key]
		switch {
		case !ok:
			desired[key] = ep
		case sameDesiredState(existing, ep):
			// identical re-declaration, e.g. two replicas of the same
			// service; not a conflict.
		default:
			s.log.WithField("dns_name", key.DNSName).
				WithField("record_type", key.RecordType).
				Error("conflicting desired state from two containers for the same record; dropping both")
			conflicted[key] = true
		}
	}

	endpoints := make([]*endpoint.Endpoint, 0, len(desired))
	for key, ep := range desired {
		if conflicted[key] {
			continue
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}

func sameDesiredState(a, b *endpoint.Endpoint) bool {
	return a.Targets.Same(b.Targets) && a.TTL == b.TTL && a.Proxied == b.Proxied
}

func (s *DockerSource) endpointFromContainer(c container.Summary) (*endpoint.Endpoint, bool) {
	prefix := s.cfg.LabelPrefix
	name := shortContainerName(c)

	hostname := strings.TrimSpace(c.Labels[prefix+"/hostname"])
	if hostname == "" {
		return nil, false
	}

	rtype := endpoint.RecordTypeA
	if v := c.Labels[prefix+"/type"]; v != "" {
		switch strings.ToUpper(v) {
		case string(endpoint.RecordTypeA):
			rtype = endpoint.RecordTypeA
		case string(endpoint.RecordTypeCNAME):
			rtype = endpoint.RecordTypeCNAME
		default:
			s.log.WithField("container", name).Warnf("ignoring container with invalid %s/type label %q", prefix, v)
			return nil, false
		}
	}

	target := c.Labels[prefix+"/target"]
	if target == "" {
		target = s.defaultTarget(c, rtype, name)
		if target == "" {
			s.log.WithField("container", name).Warn("ignoring container with no target and no usable default")
			return nil, false
		}
	}

	ttl := endpoint.TTLAuto
	if v := c.Labels[prefix+"/ttl"]; v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 1 {
			s.log.WithField("container", name).Warnf("ignoring container with invalid %s/ttl label %q", prefix, v)
			return nil, false
		}
		ttl = parsed
	}

	proxied := s.cfg.ProxiedByDefault
	if v := c.Labels[prefix+"/proxied"]; v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			s.log.WithField("container", name).Warnf("ignoring invalid %s/proxied label %q, using default", prefix, v)
		} else {
			proxied = parsed
		}
	}

	ep := endpoint.NewEndpoint(hostname, rtype, ttl, proxied, target)
	ep.SourceRef = endpoint.SourceRef{ContainerID: c.ID, ContainerName: name}
	return ep, true
}

// defaultTarget picks the container name for CNAME records, or the first
// non-loopback IPv4 address on the container's first attached network for A
// records. Go's map iteration order is randomized, so "first" is not stable
// across runs when a container has more than one attached network; an
// explicit target label is recommended in that case.
func (s *DockerSource) defaultTarget(c container.Summary, rtype endpoint.RecordType, name string) string {
	if rtype == endpoint.RecordTypeCNAME {
		return name
	}
	if c.NetworkSettings == nil || len(c.NetworkSettings.Networks) == 0 {
		return ""
	}
	if len(c.NetworkSettings.Networks) > 1 {
		s.log.WithField("container", name).Warn("container has multiple attached networks and no explicit target label; network selection order is not stable, set sherpa.dns/target explicitly")
	}
	for _, net := range c.NetworkSettings.Networks {
		if net.IPAddress != "" && !strings.HasPrefix(net.IPAddress, "127.") {
			return net.IPAddress
		}
	}
	return ""
}

func shortContainerName(c container.Summary) string {
	if len(c.Names) == 0 {
		return c.ID
	}
	return strings.TrimPrefix(c.Names[0], "/")
}

// matchLabelFilter implements the "KEY" or "KEY=VALUE" label_filter rule. A
// blank filter matches everything.
func matchLabelFilter(labels map[string]string, filter string) bool {
	if filter == "" {
		return true
	}
	if key, value, found := strings.Cut(filter, "="); found {
		v, ok := labels[key]
		return ok && v == value
	}
	_, ok := labels[filter]
	return ok
}

// Events subscribes to the Docker daemon's lifecycle event stream and
// returns a channel that emits a coalesced Nudge whenever a
// start/die/stop/kill event fires. The subscription reconnects with a short
// backoff if the stream breaks, and the channel closes when ctx is done.
func (s *DockerSource) Events(ctx context.Context) <-chan Nudge {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(chan Nudge, 1)
	if s.started {
		// Only one subscription per Source instance is supported; return a
		// fresh closed channel rather than silently double-subscribing.
		close(out)
		return out
	}
	s.started = true

	go s.runEventLoop(ctx, out)
	return out
}

func (s *DockerSource) runEventLoop(ctx context.Context, out chan<- Nudge) {
	defer close(out)

	filterArgs := filters.NewArgs(
		filters.Arg("type", string(events.ContainerEventType)),
		filters.Arg("event", "start"),
		filters.Arg("event", "die"),
		filters.Arg("event", "stop"),
		filters.Arg("event", "kill"),
	)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}

		msgCh, errCh := s.client.Events(ctx, events.ListOptions{Filters: filterArgs})
		var debounce *time.Timer
		var debounceC <-chan time.Time
		streamBroken := false

		for !streamBroken {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgCh:
				if !ok {
					streamBroken = true
					break
				}
				if debounce == nil {
					debounce = time.NewTimer(s.cfg.DebounceInterval)
					debounceC = debounce.C
				} else {
					if !debounce.Stop() {
						<-debounce.C
					}
					debounce.Reset(s.cfg.DebounceInterval)
				}
			case err, ok := <-errCh:
				if ok && err != nil {
					s.log.WithError(err).Warn("docker event stream error, reconnecting")
				}
				streamBroken = true
			case <-debounceC:
				select {
				case out <- Nudge{}:
				default:
				}
				debounce = nil
				debounceC = nil
			}
		}

		backoffTimer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			backoffTimer.Stop()
			return
		case <-backoffTimer.C:
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
