package health

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestCheckFlipsStatus(t *testing.T) {
	var failing atomic.Bool
	s := NewServer(map[string]Checker{
		"ledger": func(ctx context.Context) error {
			if failing.Load() {
				return errors.New("database is closed")
			}
			return nil
		},
	}, time.Second)

	ctx := context.Background()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, s.Check(ctx))

	failing.Store(true)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, s.Check(ctx))
}

func TestServeOverGRPC(t *testing.T) {
	s := NewServer(map[string]Checker{
		"ok": func(ctx context.Context) error { return nil },
	}, time.Second)
	s.Check(context.Background())

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- s.Serve(lis) }()
	defer func() {
		s.Stop()
		assert.NoError(t, <-served)
	}()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestWatchStopsWithContext(t *testing.T) {
	s := NewServer(nil, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := s.Watch(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watch loop did not stop")
	}
}
