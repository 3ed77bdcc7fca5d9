package registry

import (
	"context"
	"time"

	"github.com/KatsuhideAsanuma/lambda-microservice/internal/domain"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/logging"
)

// DiscoverySource polls a cluster control plane for services labeled as
// runtime hosts (§4.3 "Discovery"). The controller treats it purely as a
// discovery source; cluster/container orchestration itself is out of
// scope (§1).
type DiscoverySource interface {
	Discover(ctx context.Context) (map[string]*domain.RuntimeEndpoint, error)
}

// Poller refreshes a Registry from a DiscoverySource on a fixed
// interval, matching the single-instance background-task convention of
// §5 ("a single discovery poller... refreshes the registry every 30s").
type Poller struct {
	registry *Registry
	source   DiscoverySource
	interval time.Duration
}

// NewPoller creates a discovery poller. interval defaults to 30s.
func NewPoller(r *Registry, source DiscoverySource, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{registry: r, source: source, interval: interval}
}

// Run blocks, refreshing the registry every interval until ctx is
// cancelled. Intended to be started as a single goroutine at process
// start and stopped via the process's shutdown context.
func (p *Poller) Run(ctx context.Context) {
	p.refreshOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.refreshOnce(ctx)
		}
	}
}

func (p *Poller) refreshOnce(ctx context.Context) {
	table, err := p.source.Discover(ctx)
	if err != nil {
		logging.Op().Warn("runtime discovery refresh failed", "error", err)
		return
	}
	p.registry.ReplaceAll(table)
}
