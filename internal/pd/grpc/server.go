package pdgrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"nyxstore/internal/pd"
	regionpkg "nyxstore/internal/region"
	api "nyxstore/pkg/api"
)

// Server adapts pd.Service to the PD gRPC API.
type Server struct {
	api.UnimplementedPDServer
	service *pd.Service
}

func NewServer(service *pd.Service) *Server {
	return &Server{service: service}
}

func (s *Server) Bootstrap(ctx context.Context, req *api.BootstrapRequest) (*api.BootstrapResponse, error) {
	if req.Region == nil {
		return nil, status.Error(codes.InvalidArgument, "region is required")
	}
	if err := s.service.Bootstrap(pd.ProtoToRegion(req.Region)); err != nil {
		return nil, pd.ToStatus(err)
	}
	return &api.BootstrapResponse{}, nil
}

func (s *Server) AskSplit(ctx context.Context, req *api.AskSplitRequest) (*api.AskSplitResponse, error) {
	if req.Region == nil {
		return nil, status.Error(codes.InvalidArgument, "region is required")
	}
	resp, err := s.service.AskSplit(ctx, pd.ProtoToRegion(req.Region))
	if err != nil {
		return nil, pd.ToStatus(err)
	}
	return &api.AskSplitResponse{NewRegionId: uint64(resp.NewRegionID), NewPeerIds: resp.NewPeerIDs}, nil
}

func (s *Server) AskMerge(ctx context.Context, req *api.AskMergeRequest) (*api.AskMergeResponse, error) {
	if req.Region == nil {
		return nil, status.Error(codes.InvalidArgument, "region is required")
	}
	resp, err := s.service.AskMerge(ctx, pd.ProtoToRegion(req.Region))
	if err != nil {
		return nil, pd.ToStatus(err)
	}
	out := &api.AskMergeResponse{Ok: resp.OK}
	if resp.IntoRegion != nil {
		out.IntoRegion = pd.RegionToProto(*resp.IntoRegion)
	}
	return out, nil
}

func (s *Server) RegionHeartbeat(ctx context.Context, req *api.RegionHeartbeatRequest) (*api.RegionHeartbeatResponse, error) {
	if req.Region == nil {
		return nil, status.Error(codes.InvalidArgument, "region is required")
	}
	resp, err := s.service.RegionHeartbeat(ctx,
		pd.ProtoToRegion(req.Region),
		pd.ProtoToPeer(req.Leader),
		pd.ProtoToPeerStats(req.DownPeers))
	if err != nil {
		return nil, pd.ToStatus(err)
	}
	return pd.HeartbeatResponseToProto(resp), nil
}

func (s *Server) StoreHeartbeat(ctx context.Context, req *api.StoreHeartbeatRequest) (*api.StoreHeartbeatResponse, error) {
	if req.Stats == nil {
		return nil, status.Error(codes.InvalidArgument, "stats are required")
	}
	if err := s.service.StoreHeartbeat(ctx, pd.ProtoToStoreStats(req.Stats)); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &api.StoreHeartbeatResponse{}, nil
}

func (s *Server) ReportSplit(ctx context.Context, req *api.ReportSplitRequest) (*api.ReportSplitResponse, error) {
	if req.Left == nil || req.Right == nil {
		return nil, status.Error(codes.InvalidArgument, "both split halves are required")
	}
	if err := s.service.ReportSplit(ctx, pd.ProtoToRegion(req.Left), pd.ProtoToRegion(req.Right)); err != nil {
		return nil, pd.ToStatus(err)
	}
	return &api.ReportSplitResponse{}, nil
}

func (s *Server) GetRegionByID(ctx context.Context, req *api.GetRegionByIDRequest) (*api.GetRegionByIDResponse, error) {
	region, err := s.service.GetRegionByID(ctx, regionpkg.ID(req.RegionId))
	if err != nil {
		return nil, pd.ToStatus(err)
	}
	if region == nil {
		return &api.GetRegionByIDResponse{}, nil
	}
	return &api.GetRegionByIDResponse{Region: pd.RegionToProto(*region)}, nil
}

func (s *Server) ListRegions(ctx context.Context, req *api.ListRegionsRequest) (*api.ListRegionsResponse, error) {
	regions := s.service.Regions()
	resp := &api.ListRegionsResponse{Regions: make([]*api.Region, 0, len(regions))}
	for _, r := range regions {
		resp.Regions = append(resp.Regions, pd.RegionToProto(r))
	}
	return resp, nil
}

func (s *Server) AddOperator(ctx context.Context, req *api.AddOperatorRequest) (*api.AddOperatorResponse, error) {
	d := pd.ProtoToOperator(req)
	if d == nil {
		return nil, status.Error(codes.InvalidArgument, "operator carries no directive")
	}
	if err := s.service.AddOperator(regionpkg.ID(req.RegionId), d); err != nil {
		return nil, pd.ToStatus(err)
	}
	return &api.AddOperatorResponse{}, nil
}

func Register(server *grpc.Server, service *pd.Service) {
	api.RegisterPDServer(server, NewServer(service))
}
