package services

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-irt/internal/api"
	"github.com/miradorstack/mirador-irt/internal/cache"
	"github.com/miradorstack/mirador-irt/internal/config"
)

func scenarioRequest(t *testing.T, overrides map[string]any) *structpb.Struct {
	t.Helper()
	doc := map[string]any{
		"participants": []any{"p1", "p2", "p3"},
		"items":        []any{"easy", "hard"},
		"responses": []any{
			map[string]any{"participant": "p1", "item": "easy", "value": 1},
			map[string]any{"participant": "p1", "item": "hard", "value": 1},
			map[string]any{"participant": "p2", "item": "easy", "value": 1},
			map[string]any{"participant": "p2", "item": "hard", "value": 0},
			map[string]any{"participant": "p3", "item": "easy", "value": 0},
			map[string]any{"participant": "p3", "item": "hard", "value": 0},
		},
	}
	if overrides != nil {
		doc["config"] = overrides
	}
	req, err := structpb.NewStruct(doc)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return req
}

func newService(t *testing.T, provider cache.Provider) *EstimationService {
	t.Helper()
	cfg := config.Default()
	cfg.Cache.Enabled = provider != nil
	svc, err := NewEstimationService(nil, cfg.Estimation, cfg.Cache, provider)
	if err != nil {
		t.Fatalf("NewEstimationService returned error: %v", err)
	}
	return svc
}

func TestEstimateOverGRPC(t *testing.T) {
	svc := newService(t, nil)
	lis := bufconn.Listen(1 << 20)
	server := api.NewServerWithListener(config.Default().Server, lis, svc)
	go func() {
		_ = server.Start()
	}()
	t.Cleanup(func() { server.Shutdown(context.Background()) })

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx := context.Background()
	health, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: api.EstimatorServiceName})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if health.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected health status %v", health.GetStatus())
	}

	resp, err := api.NewEstimatorClient(conn).Estimate(ctx, scenarioRequest(t, map[string]any{"max_iterations": 50}))
	if err != nil {
		t.Fatalf("Estimate returned error: %v", err)
	}
	fields := resp.GetFields()
	if fields["run_id"].GetStringValue() == "" {
		t.Fatalf("expected run id")
	}
	if got := fields["status"].GetStringValue(); got != "converged" && got != "max_iterations_reached" {
		t.Fatalf("unexpected status %q", got)
	}

	participants := fields["participants"].GetListValue().GetValues()
	if len(participants) != 3 {
		t.Fatalf("expected 3 participants, got %d", len(participants))
	}
	items := fields["items"].GetListValue().GetValues()
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	easy := items[0].GetStructValue().GetFields()
	hard := items[1].GetStructValue().GetFields()
	if easy["id"].GetStringValue() != "easy" || hard["id"].GetStringValue() != "hard" {
		t.Fatalf("items out of order: %v %v", easy["id"], hard["id"])
	}
	easyDifficulty := easy["params"].GetStructValue().GetFields()["difficulty"].GetNumberValue()
	hardDifficulty := hard["params"].GetStructValue().GetFields()["difficulty"].GetNumberValue()
	if easyDifficulty >= hardDifficulty {
		t.Fatalf("expected easy item to be easier: %v >= %v", easyDifficulty, hardDifficulty)
	}
}

func TestEstimateInvalidArgument(t *testing.T) {
	svc := newService(t, nil)
	ctx := context.Background()

	if _, err := svc.Estimate(ctx, nil); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument for nil request, got %v", err)
	}

	outOfRange, err := structpb.NewStruct(map[string]any{
		"responses": []any{map[string]any{"participant": "p", "item": "i", "value": 1.5}},
	})
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if _, err := svc.Estimate(ctx, outOfRange); status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected invalid argument for out-of-range value, got %v", err)
	}

	for _, override := range []map[string]any{
		{"model": "5PL"},
		{"max_iterations": 0},
		{"tolerance": -1},
		{"initial_guess": "random"},
	} {
		if _, err := svc.Estimate(ctx, scenarioRequest(t, override)); status.Code(err) != codes.InvalidArgument {
			t.Fatalf("expected invalid argument for %v, got %v", override, err)
		}
	}
}

func TestEstimateCachesResults(t *testing.T) {
	provider := cache.NewMemoryProvider(8)
	svc := newService(t, provider)
	ctx := context.Background()

	first, err := svc.Estimate(ctx, scenarioRequest(t, nil))
	if err != nil {
		t.Fatalf("first Estimate returned error: %v", err)
	}
	second, err := svc.Estimate(ctx, scenarioRequest(t, nil))
	if err != nil {
		t.Fatalf("second Estimate returned error: %v", err)
	}
	if provider.Len() != 1 {
		t.Fatalf("expected one cache entry, got %d", provider.Len())
	}
	firstID := first.GetFields()["run_id"].GetStringValue()
	if secondID := second.GetFields()["run_id"].GetStringValue(); firstID != secondID {
		t.Fatalf("expected cached run id %q, got %q", firstID, secondID)
	}

	third, err := svc.Estimate(ctx, scenarioRequest(t, map[string]any{"model": "4PL"}))
	if err != nil {
		t.Fatalf("third Estimate returned error: %v", err)
	}
	if third.GetFields()["run_id"].GetStringValue() == firstID {
		t.Fatalf("different request should not hit the cache")
	}
	if provider.Len() != 2 {
		t.Fatalf("expected two cache entries, got %d", provider.Len())
	}
}

func TestEstimateCancelled(t *testing.T) {
	svc := newService(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.Estimate(ctx, scenarioRequest(t, nil)); status.Code(err) != codes.Canceled {
		t.Fatalf("expected canceled, got %v", err)
	}
}

// slowRequest builds a binary response matrix large enough that estimation
// is still running while concurrent callers join it.
func slowRequest(t *testing.T) *structpb.Struct {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	var responses []any
	for p := 0; p < 120; p++ {
		for i := 0; i < 20; i++ {
			responses = append(responses, map[string]any{
				"participant": fmt.Sprintf("p%03d", p),
				"item":        fmt.Sprintf("i%02d", i),
				"value":       float64(rng.Intn(2)),
			})
		}
	}
	req, err := structpb.NewStruct(map[string]any{
		"responses": responses,
		"config":    map[string]any{"max_iterations": 60, "tolerance": 1e-12, "parallelism": 1},
	})
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	return req
}

func waitForWaiters(t *testing.T, svc *EstimationService, key string, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for svc.waiters(key) < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d waiters on the shared estimation, got %d", n, svc.waiters(key))
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEstimateSharedRunSurvivesOneCallerCancelling(t *testing.T) {
	svc := newService(t, nil)
	req := slowRequest(t)
	key, err := requestKey(req)
	if err != nil {
		t.Fatalf("requestKey returned error: %v", err)
	}

	type outcome struct {
		resp *structpb.Struct
		err  error
	}
	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()

	doneA := make(chan outcome, 1)
	go func() {
		resp, err := svc.Estimate(ctxA, req)
		doneA <- outcome{resp, err}
	}()
	waitForWaiters(t, svc, key, 1)

	doneB := make(chan outcome, 1)
	go func() {
		resp, err := svc.Estimate(context.Background(), req)
		doneB <- outcome{resp, err}
	}()
	waitForWaiters(t, svc, key, 2)

	cancelA()
	a := <-doneA
	if status.Code(a.err) != codes.Canceled {
		t.Fatalf("expected canceled for the cancelled caller, got %v", a.err)
	}

	b := <-doneB
	if b.err != nil {
		t.Fatalf("remaining caller should finish, got %v", b.err)
	}
	if got := b.resp.GetFields()["status"].GetStringValue(); got == "" {
		t.Fatalf("expected a run status in the response")
	}
	if svc.waiters(key) != 0 {
		t.Fatalf("expected the flight to be released, %d waiters left", svc.waiters(key))
	}
}

func TestEstimateLastCallerCancellingStopsRun(t *testing.T) {
	svc := newService(t, nil)
	req := slowRequest(t)
	key, err := requestKey(req)
	if err != nil {
		t.Fatalf("requestKey returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.Estimate(ctx, req)
		done <- err
	}()
	waitForWaiters(t, svc, key, 1)

	cancel()
	if err := <-done; status.Code(err) != codes.Canceled {
		t.Fatalf("expected canceled, got %v", err)
	}
	if svc.waiters(key) != 0 {
		t.Fatalf("expected the flight to be released, %d waiters left", svc.waiters(key))
	}

	resp, err := svc.Estimate(context.Background(), scenarioRequest(t, nil))
	if err != nil || resp.GetFields()["run_id"].GetStringValue() == "" {
		t.Fatalf("service should keep serving after a cancelled run: %v", err)
	}
}

func TestNewEstimationServiceRejectsBadDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Estimation.Model = "2PL"
	if _, err := NewEstimationService(nil, cfg.Estimation, cfg.Cache, nil); err == nil {
		t.Fatalf("expected error for unsupported model")
	}

	cfg = config.Default()
	cfg.Estimation.DeltaAggregate = "median"
	if _, err := NewEstimationService(nil, cfg.Estimation, cfg.Cache, nil); err == nil {
		t.Fatalf("expected error for unknown delta aggregate")
	}
}

func TestEngineConfigCarriesFitSettings(t *testing.T) {
	est := config.Default().Estimation
	est.InitialGuess = "JITTER"
	est.MinItemResponses = 5
	est.Solver.MaxIterations = 42

	cfg, err := EngineConfig(est)
	if err != nil {
		t.Fatalf("EngineConfig returned error: %v", err)
	}
	if cfg.InitialGuess != "jitter" {
		t.Fatalf("initial guess not normalised: %q", cfg.InitialGuess)
	}
	if cfg.Fit.MinItemResponses != 5 || cfg.Fit.Solver.MaxIterations != 42 {
		t.Fatalf("fit settings not carried: %+v", cfg.Fit)
	}
	if cfg.Fit.Bounds.Ability != est.Bounds.Ability {
		t.Fatalf("bounds not carried: %+v", cfg.Fit.Bounds)
	}
}
