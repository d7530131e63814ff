/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

package health

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SSSOC-CAN/bdlog/errors"
	bg "github.com/SSSOCPaulCote/blunderguard"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

const (
	ErrHealthServiceAlreadyRegistered = bg.Error("health service already registered")
	ErrUnregisteredHealthService      = bg.Error("unregistered health service")
)

var (
	defaultCheckTimeout time.Duration = 5 * time.Second
)

type HealthService struct {
	healthpb.UnimplementedHealthServer
	Running            int32 // used atomically
	registeredServices map[string]Pinger
	mu                 sync.RWMutex
	grpcServer         *grpc.Server
	listener           net.Listener
	logger             *zerolog.Logger
	wg                 sync.WaitGroup
}

// NewHealthService instantiates a new HealthService
func NewHealthService(logger *zerolog.Logger) *HealthService {
	return &HealthService{
		registeredServices: make(map[string]Pinger),
		logger:             logger,
	}
}

// RegisterWithGrpcServer registers the health service with the gRPC server
func (h *HealthService) RegisterWithGrpcServer(grpcServer *grpc.Server) error {
	healthpb.RegisterHealthServer(grpcServer, h)
	return nil
}

// RegisterHealthService registers a given service that we want to perform health checks on
func (h *HealthService) RegisterHealthService(name string, s Pinger) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.registeredServices[name]; ok {
		return ErrHealthServiceAlreadyRegistered
	}
	h.registeredServices[name] = s
	return nil
}

// ping checks a single service, bounded by defaultCheckTimeout
func ping(ctx context.Context, service Pinger) healthpb.HealthCheckResponse_ServingStatus {
	newCtx, cancel := context.WithTimeout(ctx, defaultCheckTimeout)
	defer cancel()
	errChan := make(chan error, 1)
	go func() {
		errChan <- service.Ping(newCtx)
	}()
	select {
	case err := <-errChan:
		if err != nil {
			return healthpb.HealthCheckResponse_NOT_SERVING
		}
		return healthpb.HealthCheckResponse_SERVING
	case <-newCtx.Done():
		return healthpb.HealthCheckResponse_UNKNOWN
	}
}

// Check is the gRPC command to perform the health check. An empty service name checks
// every registered service and reports SERVING only if all of them are.
func (h *HealthService) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if req.Service == "" || req.Service == "all" {
		overall := healthpb.HealthCheckResponse_SERVING
		for name, service := range h.registeredServices {
			if st := ping(ctx, service); st != healthpb.HealthCheckResponse_SERVING {
				h.logger.Debug().Msgf("Service %s is %v", name, st)
				overall = st
			}
		}
		return &healthpb.HealthCheckResponse{Status: overall}, nil
	}
	service, ok := h.registeredServices[req.Service]
	if !ok {
		return nil, status.Error(codes.NotFound, ErrUnregisteredHealthService.Error())
	}
	return &healthpb.HealthCheckResponse{Status: ping(ctx, service)}, nil
}

// Start serves the health service on port
func (h *HealthService) Start(port int, opts ...grpc.ServerOption) error {
	if ok := atomic.CompareAndSwapInt32(&h.Running, 0, 1); !ok {
		return errors.ErrServiceAlreadyStarted
	}
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		atomic.StoreInt32(&h.Running, 0)
		return fmt.Errorf("could not listen on port %d: %v", port, err)
	}
	h.listener = lis
	h.grpcServer = grpc.NewServer(opts...)
	_ = h.RegisterWithGrpcServer(h.grpcServer)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.grpcServer.Serve(lis); err != nil {
			h.logger.Error().Msgf("Health server stopped: %v", err)
		}
	}()
	h.logger.Info().Msgf("Health service listening on %v", lis.Addr())
	return nil
}

// Addr returns the address the service listens on
func (h *HealthService) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop stops the health server
func (h *HealthService) Stop() error {
	if ok := atomic.CompareAndSwapInt32(&h.Running, 1, 0); !ok {
		return errors.ErrServiceAlreadyStopped
	}
	h.grpcServer.GracefulStop()
	h.wg.Wait()
	return nil
}
