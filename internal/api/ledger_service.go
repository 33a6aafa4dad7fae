package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"parkledger/internal/domain"
	"parkledger/internal/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ledgerServiceName = "parkledger.ledger.v1.LedgerService"

	methodAllocateAndBook     = "/" + ledgerServiceName + "/AllocateAndBook"
	methodReleaseBooking      = "/" + ledgerServiceName + "/ReleaseBooking"
	methodCancelBooking       = "/" + ledgerServiceName + "/CancelBooking"
	methodListActiveIntervals = "/" + ledgerServiceName + "/ListActiveIntervals"
)

// LedgerServer is the gRPC surface of the booking ledger. Messages are
// google.protobuf.Struct values so no generated stubs are needed.
type LedgerServer interface {
	AllocateAndBook(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReleaseBooking(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelBooking(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListActiveIntervals(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type LedgerService struct {
	ledger domain.BookingLedger
}

func NewLedgerService(ledger domain.BookingLedger) *LedgerService {
	return &LedgerService{ledger: ledger}
}

func (s *LedgerService) AllocateAndBook(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	requester, err := grpcRequester(ctx)
	if err != nil {
		return nil, err
	}

	fields := req.GetFields()
	lotID := int64(fields["lot_id"].GetNumberValue())
	if lotID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "lot_id is required")
	}
	entry, err := parseTimeField(fields, "entry_time")
	if err != nil {
		return nil, err
	}
	exit, err := parseTimeField(fields, "exit_time")
	if err != nil {
		return nil, err
	}

	body := createBookingRequest{
		LotID:      lotID,
		VehicleRef: fields["vehicle_ref"].GetStringValue(),
		EntryTime:  entry,
		ExitTime:   exit,
	}
	if err := requests.Struct(&body); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	booking, err := s.ledger.AllocateAndBook(ctx, body.LotID, requester, body.VehicleRef, body.EntryTime, body.ExitTime)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(booking)
}

func (s *LedgerService) ReleaseBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.finish(ctx, req, s.ledger.ReleaseBooking, models.StatusCompleted)
}

func (s *LedgerService) CancelBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.finish(ctx, req, s.ledger.CancelBooking, models.StatusCancelled)
}

func (s *LedgerService) finish(ctx context.Context, req *structpb.Struct, op bookingOp, result string) (*structpb.Struct, error) {
	requester, err := grpcRequester(ctx)
	if err != nil {
		return nil, err
	}
	id := int64(req.GetFields()["booking_id"].GetNumberValue())
	if id <= 0 {
		return nil, status.Error(codes.InvalidArgument, "booking_id is required")
	}

	if err := op(ctx, id, requester); err != nil {
		return nil, grpcError(err)
	}
	return structpb.NewStruct(map[string]any{"booking_id": id, "status": result})
}

func (s *LedgerService) ListActiveIntervals(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	lotID := int64(req.GetFields()["lot_id"].GetNumberValue())
	if lotID <= 0 {
		return nil, status.Error(codes.InvalidArgument, "lot_id is required")
	}

	intervals, err := s.ledger.ListActiveIntervalsForLot(ctx, lotID)
	if err != nil {
		return nil, grpcError(err)
	}
	if intervals == nil {
		intervals = []models.SpotInterval{}
	}
	return toStruct(map[string]any{"lot_id": lotID, "intervals": intervals})
}

func grpcRequester(ctx context.Context) (string, error) {
	requester := RequesterFrom(ctx)
	if requester == "" {
		return "", status.Error(codes.Unauthenticated, errMissingRequester.Error())
	}
	return requester, nil
}

func parseTimeField(fields map[string]*structpb.Value, name string) (time.Time, error) {
	raw := fields[name].GetStringValue()
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, status.Error(codes.InvalidArgument, fmt.Sprintf("%s must be an RFC3339 timestamp", name))
	}
	return t, nil
}

// toStruct converts v through its JSON form so response fields match the
// HTTP API.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return out, nil
}

func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&ledgerServiceDesc, srv)
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ledgerServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AllocateAndBook", Handler: unaryHandler(methodAllocateAndBook, LedgerServer.AllocateAndBook)},
		{MethodName: "ReleaseBooking", Handler: unaryHandler(methodReleaseBooking, LedgerServer.ReleaseBooking)},
		{MethodName: "CancelBooking", Handler: unaryHandler(methodCancelBooking, LedgerServer.CancelBooking)},
		{MethodName: "ListActiveIntervals", Handler: unaryHandler(methodListActiveIntervals, LedgerServer.ListActiveIntervals)},
	},
	Streams: []grpc.StreamDesc{},
}

type ledgerMethod func(LedgerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call ledgerMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LedgerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(LedgerServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// LedgerClient calls LedgerService over an existing connection.
type LedgerClient struct {
	cc grpc.ClientConnInterface
}

func NewLedgerClient(cc grpc.ClientConnInterface) *LedgerClient {
	return &LedgerClient{cc: cc}
}

func (c *LedgerClient) AllocateAndBook(ctx context.Context, lotID int64, vehicleRef string, entry, exit time.Time, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{
		"lot_id":      lotID,
		"vehicle_ref": vehicleRef,
		"entry_time":  entry.Format(time.RFC3339),
		"exit_time":   exit.Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, methodAllocateAndBook, req, opts...)
}

func (c *LedgerClient) ReleaseBooking(ctx context.Context, bookingID int64, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{"booking_id": bookingID})
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, methodReleaseBooking, req, opts...)
}

func (c *LedgerClient) CancelBooking(ctx context.Context, bookingID int64, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{"booking_id": bookingID})
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, methodCancelBooking, req, opts...)
}

func (c *LedgerClient) ListActiveIntervals(ctx context.Context, lotID int64, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{"lot_id": lotID})
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, methodListActiveIntervals, req, opts...)
}

func (c *LedgerClient) invoke(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
