package health

import (
	"context"
	"io/ioutil"
	"testing"
	"time"

	bg "github.com/SSSOCPaulCote/blunderguard"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

const errNotConnected = bg.Error("not connected")

type fakeService struct {
	err   error
	delay time.Duration
}

func (f *fakeService) Ping(ctx context.Context) error {
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return f.err
}

// TestCheck tests the health check against registered services
func TestCheck(t *testing.T) {
	log := zerolog.New(ioutil.Discard)
	h := NewHealthService(&log)
	up := &fakeService{}
	if err := h.RegisterHealthService("source", up); err != nil {
		t.Fatalf("Could not register service: %v", err)
	}
	if err := h.RegisterHealthService("source", up); err != ErrHealthServiceAlreadyRegistered {
		t.Errorf("Expected already registered error, received %v", err)
	}
	if err := h.RegisterHealthService("output", PingFunc(func(context.Context) error { return errNotConnected })); err != nil {
		t.Fatalf("Could not register service: %v", err)
	}
	ctx := context.Background()
	resp, err := h.Check(ctx, &healthpb.HealthCheckRequest{Service: "source"})
	if err != nil || resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Expected SERVING, received %v %v", resp, err)
	}
	resp, err = h.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil || resp.Status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("Expected NOT_SERVING overall, received %v %v", resp, err)
	}
	_, err = h.Check(ctx, &healthpb.HealthCheckRequest{Service: "nope"})
	if status.Code(err) != codes.NotFound {
		t.Errorf("Expected NotFound, received %v", err)
	}
	defaultCheckTimeout = 20 * time.Millisecond
	defer func() { defaultCheckTimeout = 5 * time.Second }()
	if err := h.RegisterHealthService("slow", &fakeService{delay: time.Second}); err != nil {
		t.Fatalf("Could not register service: %v", err)
	}
	resp, err = h.Check(ctx, &healthpb.HealthCheckRequest{Service: "slow"})
	if err != nil || resp.Status != healthpb.HealthCheckResponse_UNKNOWN {
		t.Errorf("Expected UNKNOWN for a slow service, received %v %v", resp, err)
	}
}

// TestServer tests the health service over gRPC
func TestServer(t *testing.T) {
	log := zerolog.New(ioutil.Discard)
	h := NewHealthService(&log)
	if err := h.RegisterHealthService("source", &fakeService{}); err != nil {
		t.Fatalf("Could not register service: %v", err)
	}
	if err := h.Start(0); err != nil {
		t.Fatalf("Could not start health service: %v", err)
	}
	if err := h.Start(0); err == nil {
		t.Error("Expected an error starting twice")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := grpc.DialContext(ctx, h.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()), grpc.WithBlock())
	if err != nil {
		t.Fatalf("Could not dial health service: %v", err)
	}
	defer conn.Close()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: "source"})
	if err != nil {
		t.Fatalf("Health check failed: %v", err)
	}
	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Expected SERVING, received %v", resp.Status)
	}
	if err := h.Stop(); err != nil {
		t.Errorf("Could not stop health service: %v", err)
	}
	if err := h.Stop(); err == nil {
		t.Error("Expected an error stopping twice")
	}
}
