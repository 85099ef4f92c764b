package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-irt/internal/api"
	"github.com/miradorstack/mirador-irt/internal/cache"
	"github.com/miradorstack/mirador-irt/internal/config"
	"github.com/miradorstack/mirador-irt/internal/engine"
	"github.com/miradorstack/mirador-irt/internal/irt"
	"github.com/miradorstack/mirador-irt/internal/metrics"
	"github.com/miradorstack/mirador-irt/internal/models"
	"github.com/miradorstack/mirador-irt/internal/results"
	"github.com/miradorstack/mirador-irt/internal/utils"
)

const cacheKeyPrefix = "mirador-irt:estimate:"

// EstimationService implements the gRPC Estimator service.
type EstimationService struct {
	logger    *slog.Logger
	base      engine.Config
	cache     cache.Provider
	cacheTTL  time.Duration
	inflight  singleflight.Group
	latencies *utils.LatencyWindow

	mu      sync.Mutex
	flights map[string]*flight
}

// flight is the context shared by every caller waiting on one estimation. It
// is cancelled once the last waiter has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewEstimationService constructs the estimation facade. est supplies the
// defaults every request starts from; a nil provider disables caching.
func NewEstimationService(logger *slog.Logger, est config.EstimationConfig, cacheCfg config.CacheConfig, provider cache.Provider) (*EstimationService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base, err := EngineConfig(est)
	if err != nil {
		return nil, err
	}
	if err := base.Validate(); err != nil {
		return nil, err
	}
	if provider == nil || !cacheCfg.Enabled {
		provider = cache.NoopProvider{}
	}
	return &EstimationService{
		logger:    logger,
		base:      base,
		cache:     provider,
		cacheTTL:  cacheCfg.TTL,
		latencies: utils.NewLatencyWindow(1024),
		flights:   make(map[string]*flight),
	}, nil
}

// EngineConfig translates the service configuration into engine settings.
func EngineConfig(est config.EstimationConfig) (engine.Config, error) {
	kind, err := irt.ParseKind(est.Model)
	if err != nil {
		return engine.Config{}, utils.NewAppError("services.EngineConfig", err.Error(), engine.ErrInvalidConfiguration)
	}

	solver := irt.DefaultSolverSettings()
	solver.MaxIterations = est.Solver.MaxIterations
	solver.GradientTol = est.Solver.GradientTol
	solver.CostTol = est.Solver.CostTol
	solver.StepTol = est.Solver.StepTol

	return engine.Config{
		Model:          kind,
		MaxIterations:  est.MaxIterations,
		Tolerance:      est.Tolerance,
		Parallelism:    est.Parallelism,
		InitialGuess:   engine.InitialGuess(strings.ToLower(est.InitialGuess)),
		DeltaAggregate: engine.DeltaAggregate(strings.ToLower(est.DeltaAggregate)),
		Seed:           est.Seed,
		PositiveCutoff: est.PositiveCutoff,
		Verbose:        est.Verbose,
		Fit: irt.FitOptions{
			Bounds:                  est.Bounds,
			Solver:                  solver,
			MinItemResponses:        est.MinItemResponses,
			MinParticipantResponses: est.MinParticipantResponses,
		},
	}, nil
}

// Estimate decodes the request, runs the estimator and encodes the results.
// Identical requests are answered from the cache while the entry is live,
// and concurrent identical requests share one estimation.
func (s *EstimationService) Estimate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request cannot be nil")
	}

	key, err := requestKey(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if cached, ok := s.lookup(ctx, key); ok {
		return cached, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}

	f := s.join(ctx, key)
	defer s.leave(key, f)

	ch := s.inflight.DoChan(key, func() (any, error) {
		return s.estimate(f.ctx, key, req)
	})
	select {
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			s.logger.Debug("estimation shared with concurrent request", slog.String("key", key))
		}
		return proto.Clone(res.Val.(*structpb.Struct)).(*structpb.Struct), nil
	}
}

// join registers a waiter on the flight for key, starting one detached from
// the caller's cancellation when none is running.
func (s *EstimationService) join(ctx context.Context, key string) *flight {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		s.flights[key] = f
	}
	f.waiters++
	return f
}

// leave drops a waiter. The last one out cancels the estimation and forgets
// the key so later callers start afresh.
func (s *EstimationService) leave(key string, f *flight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if s.flights[key] == f {
		delete(s.flights, key)
	}
	s.inflight.Forget(key)
}

func (s *EstimationService) waiters(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.flights[key]; ok {
		return f.waiters
	}
	return 0
}

func (s *EstimationService) estimate(ctx context.Context, key string, req *structpb.Struct) (*structpb.Struct, error) {
	start := time.Now()

	domainReq, err := api.FromStructRequest(req)
	if err != nil {
		metrics.ObserveEstimation(time.Since(start), metrics.OutcomeInvalid, "")
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	matrix, err := domainReq.Matrix()
	if err != nil {
		metrics.ObserveEstimation(time.Since(start), metrics.OutcomeInvalid, "")
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	cfg, err := s.resolve(domainReq.Overrides)
	if err != nil {
		metrics.ObserveEstimation(time.Since(start), metrics.OutcomeInvalid, "")
		return nil, status.Error(codes.InvalidArgument, utils.Message(err))
	}

	s.logger.Debug("Estimate called",
		slog.Int("participants", matrix.NumParticipants()),
		slog.Int("items", matrix.NumItems()),
		slog.Int("responses", matrix.NumResponses()),
		slog.String("model", string(cfg.Model)),
	)

	res, err := engine.NewEstimator(s.logger, cfg).Estimate(ctx, matrix)
	duration := time.Since(start)
	if err != nil {
		return nil, s.estimationError(duration, err)
	}

	s.record(duration, res)

	out, err := api.ToStructResponse(res)
	if err != nil {
		s.logger.Error("encode estimation response failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to encode results")
	}
	s.store(ctx, key, out)
	return out, nil
}

// resolve layers the request overrides over the service defaults.
func (s *EstimationService) resolve(o models.EstimationOverrides) (engine.Config, error) {
	cfg := s.base
	if o.Model != "" {
		kind, err := irt.ParseKind(o.Model)
		if err != nil {
			return engine.Config{}, utils.NewAppError("services.resolve", err.Error(), engine.ErrInvalidConfiguration)
		}
		cfg.Model = kind
	}
	if o.MaxIterations != nil {
		cfg.MaxIterations = *o.MaxIterations
	}
	if o.Tolerance != nil {
		cfg.Tolerance = *o.Tolerance
	}
	if o.Parallelism != nil {
		cfg.Parallelism = *o.Parallelism
	}
	if o.InitialGuess != "" {
		cfg.InitialGuess = engine.InitialGuess(strings.ToLower(o.InitialGuess))
	}
	if o.DeltaAggregate != "" {
		cfg.DeltaAggregate = engine.DeltaAggregate(strings.ToLower(o.DeltaAggregate))
	}
	if o.Seed != nil {
		cfg.Seed = *o.Seed
	}
	if o.Verbose != nil {
		cfg.Verbose = *o.Verbose
	}
	if err := cfg.Validate(); err != nil {
		return engine.Config{}, err
	}
	return cfg, nil
}

func (s *EstimationService) estimationError(duration time.Duration, err error) error {
	switch {
	case errors.Is(err, engine.ErrInvalidConfiguration), errors.Is(err, models.ErrInvalidMatrix):
		metrics.ObserveEstimation(duration, metrics.OutcomeInvalid, "")
		return status.Error(codes.InvalidArgument, utils.Message(err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		metrics.ObserveEstimation(duration, metrics.OutcomeError, "")
		s.logger.Warn("estimation interrupted", slog.Any("error", err))
		return status.FromContextError(err).Err()
	default:
		metrics.ObserveEstimation(duration, metrics.OutcomeError, "")
		s.logger.Error("estimation failed", slog.Any("error", err))
		return status.Error(codes.Internal, fmt.Sprintf("estimation failed: %v", err))
	}
}

func (s *EstimationService) record(duration time.Duration, res *results.Results) {
	metrics.ObserveEstimation(duration, metrics.OutcomeSuccess, string(res.Status()))
	metrics.ObserveIterations(res.Iterations())
	for reason, n := range heldByReason(res.ParticipantStatuses()) {
		metrics.AddHeld(metrics.KindParticipant, reason, n)
	}
	for reason, n := range heldByReason(res.ItemStatuses()) {
		metrics.AddHeld(metrics.KindItem, reason, n)
	}

	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		s.logger.Info("estimation latency",
			slog.Duration("p95", s.latencies.Quantile(0.95)),
			slog.Duration("mean", s.latencies.Mean()),
			slog.Int("samples", count),
		)
	}
}

func (s *EstimationService) lookup(ctx context.Context, key string) (*structpb.Struct, bool) {
	payload, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("cache lookup failed", slog.Any("error", err))
		}
		metrics.ObserveCacheLookup(false)
		return nil, false
	}
	out := new(structpb.Struct)
	if err := proto.Unmarshal(payload, out); err != nil {
		s.logger.Warn("discarding corrupt cache entry", slog.String("key", key), slog.Any("error", err))
		_ = s.cache.Del(ctx, key)
		metrics.ObserveCacheLookup(false)
		return nil, false
	}
	metrics.ObserveCacheLookup(true)
	return out, true
}

func (s *EstimationService) store(ctx context.Context, key string, out *structpb.Struct) {
	if _, noop := s.cache.(cache.NoopProvider); noop {
		return
	}
	payload, err := proto.Marshal(out)
	if err != nil {
		s.logger.Warn("encode cache entry failed", slog.Any("error", err))
		return
	}
	if err := s.cache.Set(ctx, key, payload, s.cacheTTL); err != nil {
		s.logger.Warn("cache store failed", slog.Any("error", err))
	}
}

// LatencyP95 returns the current p95 estimation latency.
func (s *EstimationService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Quantile(0.95)
}

// requestKey hashes the deterministic wire encoding of the request.
func requestKey(req *structpb.Struct) (string, error) {
	payload, err := proto.MarshalOptions{Deterministic: true}.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}
	sum := sha256.Sum256(payload)
	return cacheKeyPrefix + hex.EncodeToString(sum[:]), nil
}

func heldByReason(statuses []models.EntityStatus) map[string]int {
	out := make(map[string]int)
	for _, st := range statuses {
		if st.Held() {
			out[string(st)]++
		}
	}
	return out
}
