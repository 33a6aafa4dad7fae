package api

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"parkledger/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func startBufconnServer(t *testing.T, f *apiFixture, cfg config.APIConfig) *grpc.ClientConn {
	t.Helper()
	logger := zerolog.Nop()
	lis := bufconn.Listen(1 << 20)

	srv, err := NewGRPCServerWithListener(&cfg, f.ledger, lis, &logger)
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func withRequesterMD(requester string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "x-requester-id", requester)
}

func TestGRPCLedger(t *testing.T) {
	cfg := openConfig()
	f := newAPIFixture(t, cfg)
	client := NewLedgerClient(startBufconnServer(t, f, cfg))

	resp, err := client.AllocateAndBook(withRequesterMD("alice"), 1, "KA01AB1234", slot, slot.Add(2*time.Hour))
	require.NoError(t, err)
	fields := resp.GetFields()
	assert.Equal(t, float64(1), fields["spot_number"].GetNumberValue())
	assert.Equal(t, "alice", fields["requester_id"].GetStringValue())
	assert.Equal(t, 40.0, fields["total_cost"].GetNumberValue())
	bookingID := int64(fields["id"].GetNumberValue())

	_, err = client.AllocateAndBook(withRequesterMD("bob"), 1, "KA02", slot, slot.Add(time.Hour))
	require.NoError(t, err)
	_, err = client.AllocateAndBook(withRequesterMD("carol"), 1, "KA03", slot.Add(30*time.Minute), slot.Add(90*time.Minute))
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))

	list, err := client.ListActiveIntervals(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, list.GetFields()["intervals"].GetListValue().GetValues(), 2)

	_, err = client.ReleaseBooking(withRequesterMD("bob"), bookingID)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = client.ReleaseBooking(context.Background(), bookingID)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	out, err := client.ReleaseBooking(withRequesterMD("alice"), bookingID)
	require.NoError(t, err)
	assert.Equal(t, "completed", out.GetFields()["status"].GetStringValue())

	_, err = client.CancelBooking(withRequesterMD("alice"), bookingID)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = client.ReleaseBooking(withRequesterMD("alice"), 999)
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.AllocateAndBook(withRequesterMD("alice"), 1, "KA01", slot.Add(time.Hour), slot)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	list, err = client.ListActiveIntervals(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, list.GetFields()["intervals"].GetListValue().GetValues(), 1)
}

func TestGRPCAllocateValidatesLikeHTTP(t *testing.T) {
	cfg := openConfig()
	f := newAPIFixture(t, cfg)
	client := NewLedgerClient(startBufconnServer(t, f, cfg))
	ctx := withRequesterMD("alice")

	tests := []struct {
		name       string
		vehicleRef string
		entry      time.Time
		exit       time.Time
	}{
		{name: "missing vehicle", vehicleRef: "", entry: slot, exit: slot.Add(time.Hour)},
		{name: "vehicle too long", vehicleRef: strings.Repeat("K", 33), entry: slot, exit: slot.Add(time.Hour)},
		{name: "beyond storable range", vehicleRef: "KA01", entry: time.Date(2300, 1, 1, 10, 0, 0, 0, time.UTC), exit: time.Date(2300, 1, 1, 12, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.AllocateAndBook(ctx, 1, tt.vehicleRef, tt.entry, tt.exit)
			assert.Equal(t, codes.InvalidArgument, status.Code(err))
		})
	}

	list, err := client.ListActiveIntervals(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, list.GetFields()["intervals"].GetListValue().GetValues())

	mine, err := f.ledger.GetUserBookings(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestGRPCHealthAndAuth(t *testing.T) {
	cfg := openConfig()
	cfg.Auth = config.APIAuthConfig{
		Enabled: true,
		APIKeys: []config.APIClientKey{{Key: "reader", Extra: "x", Permissions: []string{permReadLots}}},
	}
	f := newAPIFixture(t, cfg)
	conn := startBufconnServer(t, f, cfg)
	client := NewLedgerClient(conn)

	health, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ledgerServiceName})
	require.NoError(t, err, "health bypasses api keys")
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, health.GetStatus())

	_, err = client.ListActiveIntervals(context.Background(), 1)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "reader", "x-api-extra", "x", "x-requester-id", "alice")
	_, err = client.ListActiveIntervals(ctx, 1)
	assert.NoError(t, err)

	_, err = client.AllocateAndBook(ctx, 1, "KA01", slot, slot.Add(time.Hour))
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}
