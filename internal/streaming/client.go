package streaming

import (
	"context"
	"fmt"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/watch"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// MonitorClient talks to a remote Monitor service.
type MonitorClient struct {
	cc grpc.ClientConnInterface
}

func NewMonitorClient(cc grpc.ClientConnInterface) *MonitorClient {
	return &MonitorClient{cc: cc}
}

func (c *MonitorClient) ListEntries(ctx context.Context, opts ...grpc.CallOption) ([]watch.Entry, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, listEntriesMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}

	list := out.GetFields()["entries"].GetListValue()
	entries := make([]watch.Entry, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		s := v.GetStructValue()
		if s == nil {
			return nil, fmt.Errorf("malformed entry in response")
		}
		e, err := entryFromStruct(s)
		if err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// WatchStream receives entries from a Watch call.
type WatchStream struct {
	stream grpc.ClientStream
}

func (w *WatchStream) Recv() (watch.Entry, error) {
	msg := new(structpb.Struct)
	if err := w.stream.RecvMsg(msg); err != nil {
		return watch.Entry{}, err
	}
	return entryFromStruct(msg)
}

// Watch opens an update stream for names (all entries when empty). Cancel
// ctx to end it.
func (c *MonitorClient) Watch(ctx context.Context, names []string, opts ...grpc.CallOption) (*WatchStream, error) {
	stream, err := c.cc.NewStream(ctx, &MonitorServiceDesc.Streams[0], watchMethod, opts...)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	if len(names) > 0 {
		list := make([]any, len(names))
		for i, n := range names {
			list[i] = n
		}
		fields["names"] = list
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &WatchStream{stream: stream}, nil
}
