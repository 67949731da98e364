package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/oshimpathan/sharesathi/cache"
	appmw "github.com/oshimpathan/sharesathi/internal/http/middleware"
	"github.com/oshimpathan/sharesathi/internal/jobs"
	"github.com/oshimpathan/sharesathi/offline"
)

// DeployEnqueuer queues a deploy for a background worker.
type DeployEnqueuer interface {
	EnqueueDeploy(ctx context.Context, p jobs.DeployVersionPayload) (string, error)
}

type Server struct {
	Router        *chi.Mux
	Host          *offline.Host
	Deploys       DeployEnqueuer // nil deploys inline
	DefaultAssets []string
}

type ServerOptions struct {
	Host          *offline.Host
	Origin        *url.URL
	AdminToken    string
	Deploys       DeployEnqueuer
	DefaultAssets []string
	Gatherer      prometheus.Gatherer
	Logger        zerolog.Logger
}

func New(opts ServerOptions) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(hlog.NewHandler(opts.Logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(chimw.Recoverer)

	s := &Server{
		Router:        r,
		Host:          opts.Host,
		Deploys:       opts.Deploys,
		DefaultAssets: opts.DefaultAssets,
	}

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("write health check response")
		}
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/admin", func(ar chi.Router) {
		ar.Use(appmw.RequireAdmin(opts.AdminToken))
		ar.Get("/status", s.handleStatus)
		ar.Get("/caches", s.handleCaches)
		ar.Post("/deploy", s.handleDeploy)
	})

	r.NotFound(s.proxy(opts.Origin).ServeHTTP)

	return s
}

// proxy forwards everything that is not an edge endpoint to the origin,
// with the host as transport so cacheable requests go through the active
// controller.
func (s *Server) proxy(origin *url.URL) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(origin)
			pr.SetXForwarded()
			pr.Out.Host = origin.Host
		},
		Transport: s.Host,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			hlog.FromRequest(r).Warn().Err(err).Str("path", r.URL.Path).Msg("upstream unavailable")
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
		},
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("encode response")
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.Host.Status())
}

func (s *Server) handleCaches(w http.ResponseWriter, r *http.Request) {
	names, err := s.Host.Storage().Keys(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("list caches failed")
		http.Error(w, "could not list caches", http.StatusInternalServerError)
		return
	}
	if names == nil {
		names = []string{}
	}
	s.writeJSON(w, r, http.StatusOK, map[string]any{"caches": names})
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var p jobs.DeployVersionPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&p); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := cache.ValidateName(p.Version); err != nil {
		http.Error(w, "invalid version", http.StatusBadRequest)
		return
	}
	if len(p.Assets) == 0 {
		p.Assets = s.DefaultAssets
	}
	log := hlog.FromRequest(r).With().Str("cache_version", p.Version).Logger()

	if s.Deploys != nil {
		id, err := s.Deploys.EnqueueDeploy(r.Context(), p)
		if errors.Is(err, jobs.ErrAlreadyQueued) {
			http.Error(w, "deploy already queued", http.StatusConflict)
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("enqueue deploy failed")
			http.Error(w, "failed to queue deploy", http.StatusInternalServerError)
			return
		}
		log.Info().Str("task_id", id).Msg("deploy queued")
		s.writeJSON(w, r, http.StatusAccepted, map[string]string{"task_id": id, "version": p.Version})
		return
	}

	_, err := s.Host.Deploy(r.Context(), p.Version, p.Assets)
	switch {
	case err == nil:
		s.writeJSON(w, r, http.StatusOK, s.Host.Status())
	case errors.Is(err, offline.ErrVersionActive):
		http.Error(w, "version already active", http.StatusConflict)
	case errors.Is(err, offline.ErrProvisioning):
		log.Warn().Err(err).Msg("deploy failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		log.Error().Err(err).Msg("deploy failed")
		http.Error(w, "deploy failed", http.StatusInternalServerError)
	}
}
