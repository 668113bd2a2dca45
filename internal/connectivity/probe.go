package connectivity

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger is implemented by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingProber probes by pinging the database pool directly.
func PingProber(p Pinger) Prober { return ProberFunc(p.Ping) }

// HealthProber probes a gRPC health endpoint.
type HealthProber struct {
	client  healthpb.HealthClient
	service string
}

// NewHealthProber checks service (empty = overall server health) over cc.
func NewHealthProber(cc grpc.ClientConnInterface, service string) *HealthProber {
	return &HealthProber{client: healthpb.NewHealthClient(cc), service: service}
}

// Probe succeeds only when the endpoint reports SERVING.
func (h *HealthProber) Probe(ctx context.Context) error {
	resp, err := h.client.Check(ctx, &healthpb.HealthCheckRequest{Service: h.service})
	if err != nil {
		return err
	}
	if st := resp.GetStatus(); st != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("health status %s", st)
	}
	return nil
}

// LoadTLS builds client transport credentials. plaintext disables TLS entirely,
// skipVerify keeps TLS but trusts any certificate (dev only).
func LoadTLS(caPath string, skipVerify, plaintext bool) (credentials.TransportCredentials, error) {
	if plaintext {
		return insecure.NewCredentials(), nil
	}
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil //nolint:gosec // dev flag
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

// DialHealth creates a lazy client connection to a health endpoint.
func DialHealth(addr string, creds credentials.TransportCredentials) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
}
