package api

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-irt/internal/config"
)

type estimatorFunc func(context.Context, *structpb.Struct) (*structpb.Struct, error)

func (f estimatorFunc) Estimate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return f(ctx, req)
}

func startBufServer(t *testing.T, service EstimatorServer) EstimatorClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	server := NewServerWithListener(config.ServerConfig{MaxRecvBytes: 1 << 20}, lis, service)
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
	t.Cleanup(func() { _ = conn.Close() })
	return NewEstimatorClient(conn)
}

func TestServerRoundTrip(t *testing.T) {
	client := startBufServer(t, estimatorFunc(func(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
		return structpb.NewStruct(map[string]any{"echo": req.GetFields()["value"].GetNumberValue()})
	}))

	req, _ := structpb.NewStruct(map[string]any{"value": 3})
	resp, err := client.Estimate(context.Background(), req)
	if err != nil {
		t.Fatalf("Estimate returned error: %v", err)
	}
	if resp.GetFields()["echo"].GetNumberValue() != 3 {
		t.Fatalf("unexpected response: %v", resp)
	}
}

func TestServerRecoversFromPanic(t *testing.T) {
	client := startBufServer(t, estimatorFunc(func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
		panic("boom")
	}))

	_, err := client.Estimate(context.Background(), &structpb.Struct{})
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected internal error, got %v", err)
	}
}
