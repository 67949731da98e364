// Package jobs carries cache version deploys over asynq.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/oshimpathan/sharesathi/cache"
	"github.com/oshimpathan/sharesathi/offline"
)

// Deployer provisions and promotes a cache version.
type Deployer interface {
	Deploy(ctx context.Context, version string, manifest []string) (*offline.Controller, error)
}

// NewDeployTask builds a deploy task for p. The task id is the version, so
// a version that is already queued is not queued twice.
func NewDeployTask(p DeployVersionPayload, opts ...asynq.Option) (*asynq.Task, error) {
	if err := cache.ValidateName(p.Version); err != nil {
		return nil, fmt.Errorf("deploy task: %w", err)
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal deploy payload: %w", err)
	}
	opts = append([]asynq.Option{
		asynq.TaskID(TaskDeployVersion + ":" + p.Version),
		asynq.Queue(DefaultQueue),
		asynq.Timeout(5 * time.Minute),
	}, opts...)
	return asynq.NewTask(TaskDeployVersion, payload, opts...), nil
}

// Enqueue queues a deploy of p.
func Enqueue(ctx context.Context, client *asynq.Client, p DeployVersionPayload, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	task, err := NewDeployTask(p, opts...)
	if err != nil {
		return nil, err
	}
	info, err := client.EnqueueContext(ctx, task)
	if err != nil {
		return nil, fmt.Errorf("enqueue deploy %s: %w", p.Version, err)
	}
	return info, nil
}

// DeployHandler processes TaskDeployVersion.
type DeployHandler struct {
	Deployer Deployer
	// DefaultAssets is used when a payload lists no assets.
	DefaultAssets []string
	Logger        zerolog.Logger
}

// ProcessTask implements asynq.Handler.
func (h *DeployHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p DeployVersionPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		h.Logger.Error().Err(err).Msg("bad deploy payload")
		return fmt.Errorf("bad payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := cache.ValidateName(p.Version); err != nil {
		h.Logger.Error().Err(err).Msg("bad deploy version")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	assets := p.Assets
	if len(assets) == 0 {
		assets = h.DefaultAssets
	}

	retry, _ := asynq.GetRetryCount(ctx)
	log := h.Logger.With().Str("cache_version", p.Version).Int("retry", retry).Logger()
	log.Info().Int("assets", len(assets)).Msg("deploy start")
	start := time.Now()

	_, err := h.Deployer.Deploy(ctx, p.Version, assets)
	duration := time.Since(start)

	switch {
	case err == nil:
		log.Info().Dur("duration", duration).Msg("deploy done")
		return nil
	case errors.Is(err, offline.ErrVersionActive):
		log.Info().Msg("version already active")
		return nil
	case IsRetryable(err):
		log.Warn().Err(err).Dur("duration", duration).Msg("retryable deploy error")
		return err
	default:
		log.Error().Err(err).Dur("duration", duration).Msg("permanent deploy error, dropping job")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
}

// IsRetryable reports whether a failed deploy may succeed if run again:
// network failures and transient origin statuses are, store failures and
// bad manifests are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, offline.ErrStoreAccess) {
		return false
	}
	if errors.Is(err, offline.ErrNetwork) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var status *offline.StatusError
	if errors.As(err, &status) {
		return status.Temporary()
	}
	return false
}

// NewMux routes deploy tasks to h.
func NewMux(h *DeployHandler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TaskDeployVersion, h)
	return mux
}

// ServerOptions configures the deploy worker.
type ServerOptions struct {
	RedisAddr   string
	Queue       string
	Concurrency int
	Logger      zerolog.Logger
}

// NewServer creates the asynq server that runs deploys. Concurrency
// defaults to 1 since deploys are serialised by the host anyway.
func NewServer(opts ServerOptions) *asynq.Server {
	queue := opts.Queue
	if queue == "" {
		queue = DefaultQueue
	}
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	logger := opts.Logger.With().Str("component", "asynq").Logger()
	return asynq.NewServer(asynq.RedisClientOpt{Addr: opts.RedisAddr}, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
		Logger:      asynqLogger{logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Error().Err(err).
				Str("task", t.Type()).
				Int("retry", retried).
				Int("max_retry", maxRetry).
				Msg("task failed")
		}),
	})
}
