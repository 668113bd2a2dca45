// Command carecard-health serves the gRPC health endpoint instances probe to
// decide whether the remote store is reachable.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/credentials"

	"github.com/and161185/carecard/internal/config"
	"github.com/and161185/carecard/internal/healthsrv"
	"github.com/and161185/carecard/internal/logging"
	"github.com/and161185/carecard/internal/repository/postgres"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main parses configuration and serves health until SIGINT/SIGTERM.
func main() {
	// Flags beyond the shared configuration
	addr := flag.String("addr", ":8443", "listen address")
	certFile := flag.String("tls-cert", "", "TLS certificate (PEM); empty serves plaintext")
	keyFile := flag.String("tls-key", "", "TLS private key (PEM)")
	interval := flag.Duration("check-interval", 5*time.Second, "store ping interval")
	cfg, err := config.Load(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, cleanup, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, Dev: cfg.Dev})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer cleanup()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", *addr),
	)

	var creds credentials.TransportCredentials
	if *certFile != "" {
		creds, err = credentials.NewServerTLSFromFile(*certFile, *keyFile)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
	}

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		logger.Fatal("pgxpool.New", zap.Error(err))
	}
	defer db.Close()

	s := healthsrv.New(db, healthsrv.Options{
		Creds:      creds,
		Interval:   *interval,
		Timeout:    cfg.ProbeTimeout,
		Reflection: cfg.Dev,
		Logger:     logger,
	})

	lis, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	go s.Run(ctx)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", *addr), zap.Bool("tls", creds != nil))
		errCh <- s.GRPC.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		done := make(chan struct{})
		go func() {
			s.GRPC.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.GRPC.Stop()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		cleanup()
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
