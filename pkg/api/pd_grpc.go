package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const PDServiceName = "nyxstore.pdpb.PD"

type PDClient interface {
	Bootstrap(ctx context.Context, in *BootstrapRequest, opts ...grpc.CallOption) (*BootstrapResponse, error)
	AskSplit(ctx context.Context, in *AskSplitRequest, opts ...grpc.CallOption) (*AskSplitResponse, error)
	AskMerge(ctx context.Context, in *AskMergeRequest, opts ...grpc.CallOption) (*AskMergeResponse, error)
	RegionHeartbeat(ctx context.Context, in *RegionHeartbeatRequest, opts ...grpc.CallOption) (*RegionHeartbeatResponse, error)
	StoreHeartbeat(ctx context.Context, in *StoreHeartbeatRequest, opts ...grpc.CallOption) (*StoreHeartbeatResponse, error)
	ReportSplit(ctx context.Context, in *ReportSplitRequest, opts ...grpc.CallOption) (*ReportSplitResponse, error)
	GetRegionByID(ctx context.Context, in *GetRegionByIDRequest, opts ...grpc.CallOption) (*GetRegionByIDResponse, error)
	ListRegions(ctx context.Context, in *ListRegionsRequest, opts ...grpc.CallOption) (*ListRegionsResponse, error)
	AddOperator(ctx context.Context, in *AddOperatorRequest, opts ...grpc.CallOption) (*AddOperatorResponse, error)
}

type pdClient struct {
	cc grpc.ClientConnInterface
}

// NewPDClient returns a client that always negotiates the JSON codec.
func NewPDClient(cc grpc.ClientConnInterface) PDClient {
	return &pdClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+PDServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *pdClient) Bootstrap(ctx context.Context, in *BootstrapRequest, opts ...grpc.CallOption) (*BootstrapResponse, error) {
	return invoke[BootstrapResponse](ctx, c.cc, "Bootstrap", in, opts)
}

func (c *pdClient) AskSplit(ctx context.Context, in *AskSplitRequest, opts ...grpc.CallOption) (*AskSplitResponse, error) {
	return invoke[AskSplitResponse](ctx, c.cc, "AskSplit", in, opts)
}

func (c *pdClient) AskMerge(ctx context.Context, in *AskMergeRequest, opts ...grpc.CallOption) (*AskMergeResponse, error) {
	return invoke[AskMergeResponse](ctx, c.cc, "AskMerge", in, opts)
}

func (c *pdClient) RegionHeartbeat(ctx context.Context, in *RegionHeartbeatRequest, opts ...grpc.CallOption) (*RegionHeartbeatResponse, error) {
	return invoke[RegionHeartbeatResponse](ctx, c.cc, "RegionHeartbeat", in, opts)
}

func (c *pdClient) StoreHeartbeat(ctx context.Context, in *StoreHeartbeatRequest, opts ...grpc.CallOption) (*StoreHeartbeatResponse, error) {
	return invoke[StoreHeartbeatResponse](ctx, c.cc, "StoreHeartbeat", in, opts)
}

func (c *pdClient) ReportSplit(ctx context.Context, in *ReportSplitRequest, opts ...grpc.CallOption) (*ReportSplitResponse, error) {
	return invoke[ReportSplitResponse](ctx, c.cc, "ReportSplit", in, opts)
}

func (c *pdClient) GetRegionByID(ctx context.Context, in *GetRegionByIDRequest, opts ...grpc.CallOption) (*GetRegionByIDResponse, error) {
	return invoke[GetRegionByIDResponse](ctx, c.cc, "GetRegionByID", in, opts)
}

func (c *pdClient) ListRegions(ctx context.Context, in *ListRegionsRequest, opts ...grpc.CallOption) (*ListRegionsResponse, error) {
	return invoke[ListRegionsResponse](ctx, c.cc, "ListRegions", in, opts)
}

func (c *pdClient) AddOperator(ctx context.Context, in *AddOperatorRequest, opts ...grpc.CallOption) (*AddOperatorResponse, error) {
	return invoke[AddOperatorResponse](ctx, c.cc, "AddOperator", in, opts)
}

type PDServer interface {
	Bootstrap(context.Context, *BootstrapRequest) (*BootstrapResponse, error)
	AskSplit(context.Context, *AskSplitRequest) (*AskSplitResponse, error)
	AskMerge(context.Context, *AskMergeRequest) (*AskMergeResponse, error)
	RegionHeartbeat(context.Context, *RegionHeartbeatRequest) (*RegionHeartbeatResponse, error)
	StoreHeartbeat(context.Context, *StoreHeartbeatRequest) (*StoreHeartbeatResponse, error)
	ReportSplit(context.Context, *ReportSplitRequest) (*ReportSplitResponse, error)
	GetRegionByID(context.Context, *GetRegionByIDRequest) (*GetRegionByIDResponse, error)
	ListRegions(context.Context, *ListRegionsRequest) (*ListRegionsResponse, error)
	AddOperator(context.Context, *AddOperatorRequest) (*AddOperatorResponse, error)
}

// UnimplementedPDServer can be embedded to keep servers forward compatible.
type UnimplementedPDServer struct{}

func (UnimplementedPDServer) Bootstrap(context.Context, *BootstrapRequest) (*BootstrapResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Bootstrap not implemented")
}
func (UnimplementedPDServer) AskSplit(context.Context, *AskSplitRequest) (*AskSplitResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method AskSplit not implemented")
}
func (UnimplementedPDServer) AskMerge(context.Context, *AskMergeRequest) (*AskMergeResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method AskMerge not implemented")
}
func (UnimplementedPDServer) RegionHeartbeat(context.Context, *RegionHeartbeatRequest) (*RegionHeartbeatResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method RegionHeartbeat not implemented")
}
func (UnimplementedPDServer) StoreHeartbeat(context.Context, *StoreHeartbeatRequest) (*StoreHeartbeatResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method StoreHeartbeat not implemented")
}
func (UnimplementedPDServer) ReportSplit(context.Context, *ReportSplitRequest) (*ReportSplitResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ReportSplit not implemented")
}
func (UnimplementedPDServer) GetRegionByID(context.Context, *GetRegionByIDRequest) (*GetRegionByIDResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetRegionByID not implemented")
}
func (UnimplementedPDServer) ListRegions(context.Context, *ListRegionsRequest) (*ListRegionsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListRegions not implemented")
}
func (UnimplementedPDServer) AddOperator(context.Context, *AddOperatorRequest) (*AddOperatorResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method AddOperator not implemented")
}

func RegisterPDServer(s grpc.ServiceRegistrar, srv PDServer) {
	s.RegisterService(&pdServiceDesc, srv)
}

// unaryHandler adapts a typed PDServer method to a grpc method handler.
func unaryHandler[Req, Resp any](method string, call func(PDServer, context.Context, *Req) (*Resp, error)) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	fullMethod := "/" + PDServiceName + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PDServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(PDServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var pdServiceDesc = grpc.ServiceDesc{
	ServiceName: PDServiceName,
	HandlerType: (*PDServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Bootstrap", Handler: unaryHandler("Bootstrap", PDServer.Bootstrap)},
		{MethodName: "AskSplit", Handler: unaryHandler("AskSplit", PDServer.AskSplit)},
		{MethodName: "AskMerge", Handler: unaryHandler("AskMerge", PDServer.AskMerge)},
		{MethodName: "RegionHeartbeat", Handler: unaryHandler("RegionHeartbeat", PDServer.RegionHeartbeat)},
		{MethodName: "StoreHeartbeat", Handler: unaryHandler("StoreHeartbeat", PDServer.StoreHeartbeat)},
		{MethodName: "ReportSplit", Handler: unaryHandler("ReportSplit", PDServer.ReportSplit)},
		{MethodName: "GetRegionByID", Handler: unaryHandler("GetRegionByID", PDServer.GetRegionByID)},
		{MethodName: "ListRegions", Handler: unaryHandler("ListRegions", PDServer.ListRegions)},
		{MethodName: "AddOperator", Handler: unaryHandler("AddOperator", PDServer.AddOperator)},
	},
	Metadata: "pkg/api/pd.go",
}
