// Package healthsrv serves a gRPC health endpoint that reports whether the
// remote store answers. Instances probe it to decide online versus offline.
package healthsrv

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// StoreService is the health service name tracking the remote store.
// The overall ("") status mirrors it.
const StoreService = "carecard.RemoteStore"

// Pinger is implemented by *postgres.DB.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configure a Server.
type Options struct {
	Creds      credentials.TransportCredentials // nil serves plaintext
	Interval   time.Duration
	Timeout    time.Duration
	Reflection bool
	Logger     *zap.Logger
}

// Server is a grpc.Server with the health service registered and a reporter
// keeping its status current.
type Server struct {
	GRPC   *grpc.Server
	health *health.Server
	db     Pinger
	opts   Options
	log    *zap.Logger
}

// New builds the server. Status starts NOT_SERVING until the first check.
func New(db Pinger, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}

	var so []grpc.ServerOption
	if opts.Creds != nil {
		so = append(so, grpc.Creds(opts.Creds))
	}
	so = append(so,
		grpc.ChainUnaryInterceptor(RecoverUnary(log), LoggingUnary(log)),
		grpc.ChainStreamInterceptor(RecoverStream(log), LoggingStream(log)),
	)
	gs := grpc.NewServer(so...)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	if opts.Reflection {
		reflection.Register(gs)
	}
	s := &Server{GRPC: gs, health: hs, db: db, opts: opts, log: log}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Check pings the store once and publishes the result.
func (s *Server) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()
	st := healthpb.HealthCheckResponse_SERVING
	if err := s.db.Ping(ctx); err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
		s.log.Warn("store ping failed", zap.Error(err))
	}
	s.set(st)
	return st
}

// Run checks every Interval until ctx ends, then marks the server as shutting down.
func (s *Server) Run(ctx context.Context) {
	prev := s.Check(ctx)
	t := time.NewTicker(s.opts.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-t.C:
			if st := s.Check(ctx); st != prev {
				s.log.Info("store health changed", zap.String("status", st.String()))
				prev = st
			}
		}
	}
}

func (s *Server) set(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(StoreService, st)
}
