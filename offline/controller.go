// Package offline implements the offline asset cache controller that fronts
// the ShareSathi single-page application.
//
// A Controller owns one versioned named cache. It is provisioned with the
// static asset manifest, promoted (deleting caches of every other version),
// and then intercepts requests: API and data-backend paths always go to the
// network, everything else is served stale-while-revalidate.
package offline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/oshimpathan/sharesathi/cache"
)

const tracerName = "github.com/oshimpathan/sharesathi/offline"

// DefaultVersion names the cache of the first ShareSathi frontend release.
const DefaultVersion = "sharesathi-v1"

// DefaultManifest returns the application shell provisioned at install time.
func DefaultManifest() []string {
	return []string{"/", "/logo.png", "/manifest.json"}
}

// Options configures a Controller.
type Options struct {
	Version  string
	Manifest []string
	// Origin is the scheme and host the controller serves. Requests to any
	// other origin are never intercepted.
	Origin  *url.URL
	Rules   Rules
	Storage cache.Storage
	// Fetcher defaults to TransportFetcher over http.DefaultTransport.
	Fetcher Fetcher
	Logger  *zerolog.Logger
	Metrics *Metrics
}

// Controller is one version of the offline asset cache.
type Controller struct {
	id       uuid.UUID
	version  string
	manifest []string
	origin   *url.URL
	rules    Rules
	storage  cache.Storage
	fetcher  Fetcher
	log      zerolog.Logger
	metrics  *Metrics
	tracer   trace.Tracer

	mu    sync.RWMutex
	state State
	store cache.Cache

	writes sync.WaitGroup
}

// New creates a controller in StateProvisioning.
func New(opts Options) (*Controller, error) {
	if err := cache.ValidateName(opts.Version); err != nil {
		return nil, fmt.Errorf("cache version: %w", err)
	}
	if opts.Origin == nil || opts.Origin.Scheme == "" || opts.Origin.Host == "" {
		return nil, errors.New("origin must be an absolute URL")
	}
	if opts.Storage == nil {
		return nil, errors.New("storage is required")
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = TransportFetcher{}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	id := uuid.New()
	origin := &url.URL{Scheme: opts.Origin.Scheme, Host: opts.Origin.Host}
	return &Controller{
		id:       id,
		version:  opts.Version,
		manifest: slices.Clone(opts.Manifest),
		origin:   origin,
		rules:    opts.Rules,
		storage:  opts.Storage,
		fetcher:  fetcher,
		log: logger.With().
			Str("component", "offline").
			Str("cache_version", opts.Version).
			Str("controller_id", id.String()).
			Logger(),
		metrics: opts.Metrics,
		tracer:  otel.Tracer(tracerName),
		state:   StateProvisioning,
	}, nil
}

func (c *Controller) ID() uuid.UUID { return c.id }

func (c *Controller) Version() string { return c.version }

func (c *Controller) Manifest() []string { return slices.Clone(c.manifest) }

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// OnProvision opens the versioned store and fills it with every manifest
// asset. It is all-or-nothing: if any asset cannot be fetched with a 2xx
// status or stored, nothing from this attempt is left in the store and the
// controller moves to StateFailed.
func (c *Controller) OnProvision(ctx context.Context) (err error) {
	ctx, span := c.tracer.Start(ctx, "offline.provision",
		trace.WithAttributes(attribute.String("cache.version", c.version)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		c.metrics.provisioned(err)
	}()

	if st := c.State(); st != StateProvisioning {
		return fmt.Errorf("provision %s: controller is %s", c.version, st)
	}

	existing, err := c.storage.Keys(ctx)
	if err != nil {
		return c.fail(&ProvisionError{Version: c.version, Err: fmt.Errorf("%w: list stores: %w", ErrStoreAccess, err)})
	}
	preexisting := slices.Contains(existing, c.version)

	store, err := c.storage.Open(ctx, c.version)
	if err != nil {
		return c.fail(&ProvisionError{Version: c.version, Err: fmt.Errorf("%w: open store: %w", ErrStoreAccess, err)})
	}

	reqs := make([]*http.Request, len(c.manifest))
	for i, asset := range c.manifest {
		req, err := c.assetRequest(ctx, asset)
		if err != nil {
			if !preexisting {
				c.dropStore(ctx)
			}
			return c.fail(&ProvisionError{Version: c.version, Asset: asset, Err: err})
		}
		reqs[i] = req
	}

	entries := make([]*cache.Entry, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		g.Go(func() error {
			entry, err := fetchEntry(gctx, c.fetcher, req)
			if err != nil {
				return &ProvisionError{Version: c.version, Asset: c.manifest[i], Err: err}
			}
			if !entry.OK() {
				return &ProvisionError{Version: c.version, Asset: c.manifest[i], Err: &StatusError{Status: entry.Status}}
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Nothing was written yet; only remove a store this attempt created.
		if !preexisting {
			c.dropStore(ctx)
		}
		return c.fail(err)
	}

	for i, entry := range entries {
		if err := store.Put(ctx, cache.KeyForRequest(reqs[i]), entry); err != nil {
			c.dropStore(ctx)
			return c.fail(&ProvisionError{
				Version: c.version,
				Asset:   c.manifest[i],
				Err:     fmt.Errorf("%w: %w", ErrStoreAccess, err),
			})
		}
	}

	c.mu.Lock()
	c.state = StateInstalled
	c.store = store
	c.mu.Unlock()

	c.log.Info().Int("assets", len(entries)).Msg("provisioned")
	return nil
}

// OnPromote deletes every store not named after this controller's version
// and makes the controller active. Cleanup failures are returned but do not
// stop the promotion.
func (c *Controller) OnPromote(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "offline.promote",
		trace.WithAttributes(attribute.String("cache.version", c.version)))
	defer span.End()

	c.mu.Lock()
	if c.state != StateInstalled {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrNotInstalled, c.version, st)
	}
	c.state = StateActive
	c.mu.Unlock()

	names, err := c.storage.Keys(ctx)
	if err != nil {
		err = fmt.Errorf("promote %s: %w: list stores: %w", c.version, ErrStoreAccess, err)
		span.RecordError(err)
		c.log.Warn().Err(err).Msg("could not enumerate old caches")
		return err
	}

	var errs []error
	for _, name := range names {
		if name == c.version {
			continue
		}
		if _, err := c.storage.Delete(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
			continue
		}
		c.log.Info().Str("old_version", name).Msg("deleted old cache")
	}
	if len(errs) > 0 {
		err := fmt.Errorf("promote %s: %w: %w", c.version, ErrStoreAccess, errors.Join(errs...))
		span.RecordError(err)
		c.log.Warn().Err(err).Msg("old cache cleanup incomplete")
		return err
	}

	c.log.Info().Msg("promoted")
	return nil
}

// OnIntercept decides how req is served. For OutcomePassthrough the
// returned response is nil and the caller must use the network itself; the
// store is not touched in that case.
func (c *Controller) OnIntercept(req *http.Request) (*http.Response, Outcome, error) {
	class := Classify(req.Method, req.URL, c.origin, c.rules)

	c.mu.RLock()
	state, store := c.state, c.store
	c.mu.RUnlock()

	if state != StateActive || class != ClassCacheableStatic {
		c.metrics.intercepted(class, OutcomePassthrough)
		return nil, OutcomePassthrough, nil
	}

	ctx, span := c.tracer.Start(req.Context(), "offline.intercept",
		trace.WithAttributes(
			attribute.String("cache.version", c.version),
			attribute.String("url.path", req.URL.Path),
		))
	defer span.End()

	res := c.revalidate(ctx, store, req)

	var outcome Outcome
	var resp *http.Response
	switch res.Tag {
	case TagStale:
		outcome, resp = OutcomeStale, res.Entry.Response(req)
	case TagFresh:
		outcome, resp = OutcomeFresh, res.Entry.Response(req)
	default:
		outcome = OutcomeFailed
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	span.SetAttributes(attribute.String("offline.outcome", outcome.String()))
	c.metrics.intercepted(class, outcome)
	c.log.Debug().Str("path", req.URL.Path).Stringer("outcome", outcome).Msg("intercepted")

	if outcome == OutcomeFailed {
		return nil, outcome, res.Err
	}
	return resp, outcome, nil
}

// revalidate starts the live fetch, looks up the stale candidate while it
// runs, and settles on a result. The fetch and its write-back are detached
// from the caller's cancellation.
func (c *Controller) revalidate(ctx context.Context, store cache.Cache, req *http.Request) Result {
	key := cache.KeyForRequest(req)
	live := make(chan liveResult, 1)
	stale := make(chan *cache.Entry, 1)

	fetchCtx := context.WithoutCancel(ctx)
	fetchReq := liveRequest(fetchCtx, req)

	c.writes.Add(1)
	go func() {
		defer c.writes.Done()
		entry, err := fetchEntry(fetchCtx, c.fetcher, fetchReq)
		live <- liveResult{entry: entry, err: err}
		if err != nil || !entry.Storable() {
			return
		}
		if err := store.Put(fetchCtx, key, entry); err != nil {
			c.metrics.writeFailed()
			c.log.Warn().Err(err).Str("key", key).Msg("cache write-back failed")
		}
	}()

	entry, err := store.Match(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) && ctx.Err() == nil {
			c.metrics.readFailed()
			c.log.Debug().Err(err).Str("key", key).Msg("cache read failed, treating as miss")
		}
		entry = nil
	}
	stale <- entry

	return settle(ctx, stale, live)
}

// liveRequest clones req for the background fetch. Headers that make the
// origin answer with a partial, conditional or client-specific encoding are
// dropped, so whatever comes back can be stored under the plain request key.
func liveRequest(ctx context.Context, req *http.Request) *http.Request {
	out := req.Clone(ctx)
	for name := range out.Header {
		if strings.HasPrefix(name, "If-") {
			out.Header.Del(name)
		}
	}
	out.Header.Del("Range")
	out.Header.Del("Accept-Encoding")
	return out
}

// Wait blocks until every background fetch and write-back started by this
// controller has finished.
func (c *Controller) Wait() {
	c.writes.Wait()
}

func (c *Controller) supersede() {
	c.mu.Lock()
	if c.state == StateActive {
		c.state = StateSuperseded
	}
	c.mu.Unlock()
	c.log.Info().Msg("superseded")
}

func (c *Controller) fail(err error) error {
	c.mu.Lock()
	c.state = StateFailed
	c.mu.Unlock()
	c.log.Error().Err(err).Msg("provisioning failed")
	return err
}

func (c *Controller) dropStore(ctx context.Context) {
	if _, err := c.storage.Delete(context.WithoutCancel(ctx), c.version); err != nil {
		c.log.Warn().Err(err).Msg("could not remove partially provisioned cache")
	}
}

// assetRequest builds the GET request for a manifest entry, resolved
// against the controller's origin.
func (c *Controller) assetRequest(ctx context.Context, asset string) (*http.Request, error) {
	ref, err := url.Parse(asset)
	if err != nil {
		return nil, fmt.Errorf("parse asset path: %w", err)
	}
	u := c.origin.ResolveReference(ref)
	if !sameOrigin(u, c.origin) {
		return nil, fmt.Errorf("asset %s is not on origin %s", asset, c.origin)
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}
