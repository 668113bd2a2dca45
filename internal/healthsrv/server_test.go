package healthsrv

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/carecard/internal/connectivity"
)

type fakeDB struct{ down atomic.Bool }

func (f *fakeDB) Ping(context.Context) error {
	if f.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func serve(t *testing.T, s *Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.GRPC.Serve(lis) }()
	t.Cleanup(s.GRPC.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close() })
	return cc
}

func TestServer_CheckFollowsStore(t *testing.T) {
	db := &fakeDB{}
	s := New(db, Options{Logger: zaptest.NewLogger(t)})
	cc := serve(t, s)
	ctx := context.Background()
	probe := connectivity.NewHealthProber(cc, StoreService)

	require.Error(t, probe.Probe(ctx), "not serving before the first check")

	require.Equal(t, healthpb.HealthCheckResponse_SERVING, s.Check(ctx))
	require.NoError(t, probe.Probe(ctx))
	require.NoError(t, connectivity.NewHealthProber(cc, "").Probe(ctx))

	db.down.Store(true)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, s.Check(ctx))
	require.Error(t, probe.Probe(ctx))
}

func TestServer_RunDrivesMonitor(t *testing.T) {
	db := &fakeDB{}
	s := New(db, Options{Interval: 5 * time.Millisecond, Logger: zaptest.NewLogger(t)})
	cc := serve(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	mon := connectivity.NewMonitor(false, connectivity.NewHealthProber(cc, StoreService), zaptest.NewLogger(t))
	require.Eventually(t, func() bool { return mon.Probe(ctx) }, time.Second, 5*time.Millisecond)

	db.down.Store(true)
	require.Eventually(t, func() bool { return !mon.Probe(ctx) }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
