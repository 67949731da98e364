package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/oshimpathan/sharesathi/cache"
)

// HostOptions configures a Host.
type HostOptions struct {
	Origin  *url.URL
	Rules   Rules
	Storage cache.Storage
	// Network carries passthrough requests and live fetches. Defaults to
	// http.DefaultTransport.
	Network http.RoundTripper
	Logger  *zerolog.Logger
	Metrics *Metrics
}

// Host runs controllers on behalf of an HTTP client or reverse proxy. It
// holds at most one active controller; deploying a new version provisions
// it, promotes it without waiting for the old one to drain, and then routes
// every request through it.
//
// Host implements http.RoundTripper.
type Host struct {
	origin  *url.URL
	rules   Rules
	storage cache.Storage
	network http.RoundTripper
	log     zerolog.Logger
	metrics *Metrics

	deployMu sync.Mutex
	active   atomic.Pointer[Controller]

	retiredMu sync.Mutex
	retired   []*Controller
}

// Status is a snapshot of the active controller.
type Status struct {
	Version      string `json:"version,omitempty"`
	State        string `json:"state"`
	ControllerID string `json:"controller_id,omitempty"`
	Assets       int    `json:"assets"`
}

// NewHost creates a host with no active controller. Until the first
// successful Deploy every request passes straight to the network.
func NewHost(opts HostOptions) (*Host, error) {
	if opts.Origin == nil || opts.Origin.Scheme == "" || opts.Origin.Host == "" {
		return nil, errors.New("origin must be an absolute URL")
	}
	if opts.Storage == nil {
		return nil, errors.New("storage is required")
	}
	network := opts.Network
	if network == nil {
		network = http.DefaultTransport
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Host{
		origin:  opts.Origin,
		rules:   opts.Rules,
		storage: opts.Storage,
		network: network,
		log:     logger,
		metrics: opts.Metrics,
	}, nil
}

// Storage returns the storage shared by every controller of this host.
func (h *Host) Storage() cache.Storage { return h.storage }

// Active returns the controller currently serving, or nil.
func (h *Host) Active() *Controller { return h.active.Load() }

// Status describes the active controller.
func (h *Host) Status() Status {
	ctrl := h.active.Load()
	if ctrl == nil {
		return Status{State: "none"}
	}
	return Status{
		Version:      ctrl.Version(),
		State:        ctrl.State().String(),
		ControllerID: ctrl.ID().String(),
		Assets:       len(ctrl.manifest),
	}
}

// Deploy provisions and promotes version. On provisioning failure the
// previously active controller, if any, keeps serving and the error (a
// *ProvisionError) is returned. Deploys are serialised.
func (h *Host) Deploy(ctx context.Context, version string, manifest []string) (*Controller, error) {
	h.deployMu.Lock()
	defer h.deployMu.Unlock()

	prev := h.active.Load()
	if prev != nil && prev.Version() == version {
		return prev, fmt.Errorf("%w: %s", ErrVersionActive, version)
	}

	logger := h.log
	ctrl, err := New(Options{
		Version:  version,
		Manifest: manifest,
		Origin:   h.origin,
		Rules:    h.rules,
		Storage:  h.storage,
		Fetcher:  TransportFetcher{Transport: h.network},
		Logger:   &logger,
		Metrics:  h.metrics,
	})
	if err != nil {
		return nil, err
	}

	if err := ctrl.OnProvision(ctx); err != nil {
		ev := h.log.Error().Err(err).Str("cache_version", version)
		if prev != nil {
			ev = ev.Str("still_active", prev.Version())
		}
		ev.Msg("deploy failed")
		return nil, err
	}

	if err := ctrl.OnPromote(ctx); err != nil {
		h.log.Warn().Err(err).Str("cache_version", version).Msg("promoted with incomplete cleanup")
	}

	h.active.Store(ctrl)
	prevVersion := ""
	if prev != nil {
		prevVersion = prev.Version()
		prev.supersede()
		h.retiredMu.Lock()
		h.retired = append(h.retired, prev)
		h.retiredMu.Unlock()
	}
	h.metrics.promoted(version, prevVersion)
	h.log.Info().Str("cache_version", version).Str("previous_version", prevVersion).Msg("deployed")
	return ctrl, nil
}

// RoundTrip implements http.RoundTripper.
func (h *Host) RoundTrip(req *http.Request) (*http.Response, error) {
	ctrl := h.active.Load()
	if ctrl == nil {
		return h.network.RoundTrip(req)
	}
	resp, outcome, err := ctrl.OnIntercept(req)
	if outcome == OutcomePassthrough {
		return h.network.RoundTrip(req)
	}
	return resp, err
}

// Wait blocks until background work of the active and every superseded
// controller has finished.
func (h *Host) Wait() {
	if ctrl := h.active.Load(); ctrl != nil {
		ctrl.Wait()
	}
	h.retiredMu.Lock()
	retired := h.retired
	h.retired = nil
	h.retiredMu.Unlock()
	for _, ctrl := range retired {
		ctrl.Wait()
	}
}
