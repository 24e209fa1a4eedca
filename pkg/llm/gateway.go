package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/psmp-io/psmp/pkg/config"
	"github.com/psmp-io/psmp/pkg/metrics"
	"github.com/psmp-io/psmp/pkg/watchdog"
)

// Gateway owns the provider registry and their health state, maps model
// aliases, and dispatches requests with retries and priority fallback.
type Gateway struct {
	cfg       config.LLMConfig
	providers map[string]Provider
	log       *slog.Logger

	mu     sync.RWMutex
	health map[string]*providerHealth

	monitorGen atomic.Uint64
	wd         *watchdog.Watchdog

	stopOnce sync.Once
	stop     chan struct{}
}

type providerHealth struct {
	healthy   bool
	failures  int
	checkedAt time.Time
}

// NewGateway builds providers from configuration. All providers start
// healthy; the first monitor sweep corrects that.
func NewGateway(cfg config.LLMConfig) (*Gateway, error) {
	g := &Gateway{
		cfg:       cfg,
		providers: make(map[string]Provider),
		health:    make(map[string]*providerHealth),
		log:       slog.With("component", "llm-gateway"),
		stop:      make(chan struct{}),
	}
	for name, providerCfg := range cfg.Providers {
		p, err := NewProvider(name, providerCfg)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		g.providers[name] = p
		g.health[name] = &providerHealth{healthy: true}
	}
	return g, nil
}

// NewGatewayWithProviders wires pre-built providers; used by tests.
func NewGatewayWithProviders(cfg config.LLMConfig, providers ...Provider) *Gateway {
	g := &Gateway{
		cfg:       cfg,
		providers: make(map[string]Provider),
		health:    make(map[string]*providerHealth),
		log:       slog.With("component", "llm-gateway"),
		stop:      make(chan struct{}),
	}
	for _, p := range providers {
		g.providers[p.Name()] = p
		g.health[p.Name()] = &providerHealth{healthy: true}
	}
	return g
}

// StartHealthMonitor probes all providers on the configured interval until
// Close is called. The first sweep runs immediately so stale "assume
// healthy" state does not persist a full interval. A watchdog restarts the
// monitor loop if it ever stops beating.
func (g *Gateway) StartHealthMonitor(ctx context.Context) {
	interval := g.cfg.HealthInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	g.wd = watchdog.New("llm-health-monitor", 30*time.Second, 2*interval,
		func() { g.startMonitorLoop(ctx, interval) })
	g.startMonitorLoop(ctx, interval)
	g.wd.Start(ctx)
}

// startMonitorLoop launches a monitor goroutine, superseding any previous
// one via the generation counter.
func (g *Gateway) startMonitorLoop(ctx context.Context, interval time.Duration) {
	gen := g.monitorGen.Add(1)
	go func() {
		g.sweep(ctx)
		g.wd.Beat()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if g.monitorGen.Load() != gen {
					return
				}
				g.sweep(ctx)
				g.wd.Beat()
			case <-g.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close stops the health monitor and its watchdog.
func (g *Gateway) Close() {
	g.stopOnce.Do(func() {
		if g.wd != nil {
			g.wd.Stop()
		}
		close(g.stop)
	})
}

func (g *Gateway) sweep(ctx context.Context) {
	probeTimeout := g.cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = 500 * time.Millisecond
	}
	threshold := g.cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 3
	}

	for name, p := range g.providers {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := p.Probe(probeCtx)
		cancel()

		g.mu.Lock()
		h := g.health[name]
		h.checkedAt = time.Now()
		if err != nil {
			h.failures++
			if h.failures >= threshold && h.healthy {
				h.healthy = false
				g.log.Warn("Provider marked unhealthy",
					"provider", name, "consecutive_failures", h.failures, "error", err)
			}
		} else {
			if !h.healthy {
				g.log.Info("Provider recovered", "provider", name)
			}
			h.failures = 0
			h.healthy = true
		}
		healthy := h.healthy
		g.mu.Unlock()

		if healthy {
			metrics.ProviderHealthy.WithLabelValues(name).Set(1)
		} else {
			metrics.ProviderHealthy.WithLabelValues(name).Set(0)
		}
	}
}

// IsAvailable reports the monitor's cached view of a provider.
func (g *Gateway) IsAvailable(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	h, ok := g.health[name]
	return ok && h.healthy
}

// MarkFailure records a dispatch-time failure against a provider, feeding
// the same threshold the monitor uses.
func (g *Gateway) MarkFailure(name string) {
	threshold := g.cfg.FailureThreshold
	if threshold <= 0 {
		threshold = 3
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if h, ok := g.health[name]; ok {
		h.failures++
		if h.failures >= threshold {
			h.healthy = false
		}
	}
}

// Providers returns all registered providers.
func (g *Gateway) Providers() []Provider {
	out := make([]Provider, 0, len(g.providers))
	for _, p := range g.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority() < out[j].Priority() })
	return out
}

// Provider returns a registered provider by name.
func (g *Gateway) Provider(name string) (Provider, bool) {
	p, ok := g.providers[name]
	return p, ok
}

// ResolveModel applies model alias mapping and default-model substitution.
// It returns the model to request and whether a substitution happened.
func (g *Gateway) ResolveModel(model string) (string, bool) {
	if mapped, ok := g.cfg.ModelMappings[model]; ok {
		return mapped, false
	}
	for _, p := range g.providers {
		if serves(p, model) {
			return model, false
		}
	}
	if g.cfg.DefaultModel != "" && g.cfg.DefaultModel != model {
		return g.cfg.DefaultModel, true
	}
	return model, false
}

// Dispatch sends the request to the highest-priority healthy provider among
// allowed that serves the resolved model, falling back down the priority
// list on failure. Each attempt gets the configured request timeout;
// MaxRetries bounds the number of fallback attempts after the first.
func (g *Gateway) Dispatch(ctx context.Context, req Request, allowed []string) (*Response, error) {
	resolved, substituted := g.ResolveModel(req.Model)
	requested := req.Model
	req.Model = resolved

	candidates := g.candidates(allowed, resolved)
	if len(candidates) == 0 {
		if !g.anyServes(resolved) {
			return nil, &DispatchError{
				Category: FailureModelUnknown,
				Err:      fmt.Errorf("no provider serves model %q", resolved),
			}
		}
		return nil, &DispatchError{Category: FailureUnavailableProvider, Err: ErrNoProvider}
	}

	timeout := g.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxAttempts := g.cfg.MaxRetries + 1
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	attempts := 0
	for _, p := range candidates {
		if attempts >= maxAttempts {
			break
		}
		attempts++
		if attempts > 1 {
			metrics.ProviderFallbacks.Inc()
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := p.Generate(attemptCtx, req)
		cancel()

		if err == nil {
			metrics.ProviderRequests.WithLabelValues(p.Name(), "success").Inc()
			resp.RequestedModel = requested
			resp.ModelSubstituted = substituted
			return resp, nil
		}

		g.MarkFailure(p.Name())
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.ProviderRequests.WithLabelValues(p.Name(), "timeout").Inc()
			lastErr = &DispatchError{Category: FailureTimeout, Provider: p.Name(), Err: err}
		} else {
			metrics.ProviderRequests.WithLabelValues(p.Name(), "error").Inc()
			lastErr = &DispatchError{Category: FailureProviderError, Provider: p.Name(), Err: err}
		}
		g.log.Warn("Provider attempt failed",
			"provider", p.Name(), "model", resolved, "attempt", attempts, "error", err)
	}

	return nil, lastErr
}

// candidates returns allowed, healthy providers serving the model, ordered
// by ascending priority.
func (g *Gateway) candidates(allowed []string, model string) []Provider {
	allowedSet := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = true
	}

	var out []Provider
	g.mu.RLock()
	for name, p := range g.providers {
		if !allowedSet[name] {
			continue
		}
		if h := g.health[name]; h == nil || !h.healthy {
			continue
		}
		if !serves(p, model) {
			continue
		}
		out = append(out, p)
	}
	g.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Priority() < out[j].Priority() })
	return out
}

func (g *Gateway) anyServes(model string) bool {
	for _, p := range g.providers {
		if serves(p, model) {
			return true
		}
	}
	return false
}
