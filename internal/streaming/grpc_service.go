package streaming

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/watch"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName       = "openplc.workspace.Monitor"
	listEntriesMethod = "/" + serviceName + "/ListEntries"
	watchMethod       = "/" + serviceName + "/Watch"
)

// MonitorServer streams watch entries as google.protobuf.Struct messages,
// which keeps the service usable from grpcurl without a schema.
type MonitorServer interface {
	ListEntries(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Watch(*structpb.Struct, grpc.ServerStream) error
}

var MonitorServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*MonitorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListEntries", Handler: listEntriesHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Watch", Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "openplc/workspace/monitor.proto",
}

func RegisterMonitorServer(s grpc.ServiceRegistrar, srv MonitorServer) {
	s.RegisterService(&MonitorServiceDesc, srv)
}

func listEntriesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MonitorServer).ListEntries(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listEntriesMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MonitorServer).ListEntries(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MonitorServer).Watch(in, stream)
}

// Snapshotter lists the current watch entries.
type Snapshotter interface {
	Entries() []watch.Entry
}

type MonitorService struct {
	streamer *Streamer
	table    Snapshotter
	logger   *zap.Logger
}

func NewMonitorService(streamer *Streamer, table Snapshotter, logger *zap.Logger) *MonitorService {
	return &MonitorService{
		streamer: streamer,
		table:    table,
		logger:   logger,
	}
}

func (s *MonitorService) ListEntries(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	entries := s.table.Entries()
	list := make([]any, 0, len(entries))
	for _, e := range entries {
		m, err := entryMap(e)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "encode %s: %v", e.Name, err)
		}
		list = append(list, m)
	}
	out, err := structpb.NewStruct(map[string]any{"entries": list})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode entries: %v", err)
	}
	return out, nil
}

// Watch sends the current value of every requested entry, then each change.
// The request may carry {"names": [...]}; no names means all entries.
func (s *MonitorService) Watch(req *structpb.Struct, stream grpc.ServerStream) error {
	names, err := requestedNames(req)
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}

	id, updates := s.streamer.Subscribe(names)
	defer s.streamer.Unsubscribe(id)

	s.logger.Info("gRPC watch subscriber joined",
		zap.String("subscriber", id.String()),
		zap.Strings("names", names))
	defer s.logger.Info("gRPC watch subscriber left", zap.String("subscriber", id.String()))

	wanted := func(string) bool { return true }
	if len(names) > 0 {
		set := make(map[string]bool, len(names))
		for _, n := range names {
			set[n] = true
		}
		wanted = func(n string) bool { return set[n] }
	}
	for _, e := range s.table.Entries() {
		if !wanted(e.Name) {
			continue
		}
		if err := sendEntry(stream, e); err != nil {
			return err
		}
	}

	for {
		select {
		case e, ok := <-updates:
			if !ok {
				return nil
			}
			if err := sendEntry(stream, e); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

func requestedNames(req *structpb.Struct) ([]string, error) {
	v, ok := req.GetFields()["names"]
	if !ok {
		return nil, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("names must be a list")
	}
	names := make([]string, 0, len(list.GetValues()))
	for _, item := range list.GetValues() {
		s, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("names must be strings")
		}
		names = append(names, s.StringValue)
	}
	return names, nil
}

func sendEntry(stream grpc.ServerStream, e watch.Entry) error {
	m, err := entryMap(e)
	if err != nil {
		return status.Errorf(codes.Internal, "encode %s: %v", e.Name, err)
	}
	msg, err := structpb.NewStruct(m)
	if err != nil {
		return status.Errorf(codes.Internal, "encode %s: %v", e.Name, err)
	}
	return stream.SendMsg(msg)
}

// entryMap goes through JSON so the wire shape matches the REST API.
func entryMap(e watch.Entry) (map[string]any, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func entryFromStruct(s *structpb.Struct) (watch.Entry, error) {
	var e watch.Entry
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return e, err
	}
	err = json.Unmarshal(data, &e)
	return e, err
}
