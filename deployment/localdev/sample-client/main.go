package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-irt/internal/api"
	"github.com/miradorstack/mirador-irt/internal/irt"
	"github.com/miradorstack/mirador-irt/internal/utils"
)

// sample-client simulates a 3PL response matrix and submits it to a running
// irt-engine for local smoke testing.
func main() {
	var (
		address      string
		participants int
		items        int
		seed         int64
		model        string
		timeout      time.Duration
	)
	flag.StringVar(&address, "address", "localhost:50061", "irt-engine gRPC address")
	flag.IntVar(&participants, "participants", 200, "number of simulated participants")
	flag.IntVar(&items, "items", 20, "number of simulated items")
	flag.Int64Var(&seed, "seed", 1, "simulation seed")
	flag.StringVar(&model, "model", "3PL", "model to request")
	flag.DurationVar(&timeout, "timeout", time.Minute, "request timeout")
	flag.Parse()

	logger := utils.NewLogger("info", false)

	req, truth, err := simulate(participants, items, seed, model)
	if err != nil {
		logger.Error("build request", slog.Any("error", err))
		os.Exit(1)
	}

	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		logger.Error("dial irt-engine", slog.String("address", address), slog.Any("error", err))
		os.Exit(1)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	resp, err := api.NewEstimatorClient(conn).Estimate(ctx, req)
	if err != nil {
		logger.Error("estimate", slog.Any("error", err))
		os.Exit(1)
	}

	fields := resp.GetFields()
	logger.Info("estimation complete",
		slog.String("run_id", fields["run_id"].GetStringValue()),
		slog.String("status", fields["status"].GetStringValue()),
		slog.Int("iterations", int(fields["iterations"].GetNumberValue())),
		slog.Duration("elapsed", time.Since(start)),
	)
	for k, v := range fields["items"].GetListValue().GetValues() {
		item := v.GetStructValue().GetFields()
		params := item["params"].GetStructValue().GetFields()
		logger.Info("item",
			slog.String("id", item["id"].GetStringValue()),
			slog.Float64("difficulty", params["difficulty"].GetNumberValue()),
			slog.Float64("true_difficulty", truth[k]),
			slog.Float64("auc", item["sdt"].GetStructValue().GetFields()["auc"].GetNumberValue()),
		)
	}
}

func simulate(participants, items int, seed int64, model string) (*structpb.Struct, []float64, error) {
	rng := rand.New(rand.NewSource(seed))

	thetas := make([]float64, participants)
	for p := range thetas {
		thetas[p] = rng.NormFloat64()
	}
	difficulties := make([]float64, items)
	params := make([]irt.ThreePL, items)
	for i := range params {
		difficulties[i] = -2 + 4*float64(i)/float64(max(items-1, 1))
		params[i] = irt.ThreePL{
			Discrimination: 0.8 + rng.Float64(),
			Difficulty:     difficulties[i],
			Guessing:       0.15 * rng.Float64(),
		}
	}

	responses := make([]any, 0, participants*items)
	for p, theta := range thetas {
		for i, item := range params {
			value := 0
			if rng.Float64() < item.Probability(theta) {
				value = 1
			}
			responses = append(responses, map[string]any{
				"participant": fmt.Sprintf("p%04d", p),
				"item":        fmt.Sprintf("i%03d", i),
				"value":       value,
			})
		}
	}

	req, err := structpb.NewStruct(map[string]any{
		"responses": responses,
		"config":    map[string]any{"model": model, "seed": seed},
	})
	return req, difficulties, err
}
