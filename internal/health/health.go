// Package health exposes the gateway's readiness over the gRPC health protocol.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the service reported alongside the overall ("") status.
const ServiceName = "chatgate.Gateway"

const defaultPingTimeout = 5 * time.Second

// Pinger is the dependency whose reachability decides serving status.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker mirrors store reachability into a gRPC health server.
type Checker struct {
	pinger  Pinger
	server  *health.Server
	timeout time.Duration
}

// NewChecker creates a Checker. Status starts as NOT_SERVING until the first Check.
func NewChecker(pinger Pinger) *Checker {
	c := &Checker{
		pinger:  pinger,
		server:  health.NewServer(),
		timeout: defaultPingTimeout,
	}
	c.set(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return c
}

// Server returns the underlying health server for registration.
func (c *Checker) Server() *health.Server {
	return c.server
}

// Check pings once and updates the serving status. It reports whether the store is reachable.
func (c *Checker) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.pinger.Ping(ctx); err != nil {
		slog.Warn("Health check failed", "error", err)
		c.set(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		return false
	}
	c.set(grpc_health_v1.HealthCheckResponse_SERVING)
	return true
}

// Run checks immediately and then every interval until ctx is done.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	c.Check(ctx)
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

func (c *Checker) set(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	c.server.SetServingStatus("", status)
	c.server.SetServingStatus(ServiceName, status)
}

// Serve listens on addr and serves the health service until ctx is done.
func (c *Checker) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return c.ServeListener(ctx, lis)
}

// ServeListener serves the health service on lis until ctx is done, then stops gracefully.
func (c *Checker) ServeListener(ctx context.Context, lis net.Listener) error {
	srv := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, c.server)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		c.server.Shutdown()
		srv.GracefulStop()
	}()

	slog.Info("gRPC health server listening", "addr", lis.Addr().String())
	err := srv.Serve(lis)
	if ctx.Err() != nil {
		<-stopped
	}
	if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve grpc health: %w", err)
	}
	return nil
}
