package pdgrpc

import (
	"context"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"nyxstore/internal/pd"
	regionpkg "nyxstore/internal/region"
	api "nyxstore/pkg/api"
)

const defaultRequestTimeout = 2 * time.Second

// Client implements pd.Client over gRPC. Every call is bounded by the
// request timeout on top of the caller's context.
type Client struct {
	conn    *grpc.ClientConn
	client  api.PDClient
	timeout time.Duration
}

var _ pd.Client = (*Client)(nil)

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithRequestTimeout overrides the per-call timeout.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient connects lazily to target. Without dial options the connection is
// insecure and traced with otelgrpc.
func NewClient(target string, dialOpts []grpc.DialOption, opts ...ClientOption) (*Client, error) {
	if len(dialOpts) == 0 {
		dialOpts = []grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		}
	}
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, err
	}
	c := &Client{conn: conn, client: api.NewPDClient(conn), timeout: defaultRequestTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) Bootstrap(ctx context.Context, region regionpkg.Region) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.client.Bootstrap(ctx, &api.BootstrapRequest{Region: pd.RegionToProto(region)})
	return err
}

func (c *Client) AskSplit(ctx context.Context, region regionpkg.Region) (pd.AskSplitResponse, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.client.AskSplit(ctx, &api.AskSplitRequest{Region: pd.RegionToProto(region)})
	if err != nil {
		return pd.AskSplitResponse{}, err
	}
	return pd.AskSplitResponse{
		NewRegionID: regionpkg.ID(resp.NewRegionId),
		NewPeerIDs:  append([]uint64(nil), resp.NewPeerIds...),
	}, nil
}

func (c *Client) AskMerge(ctx context.Context, region regionpkg.Region) (pd.AskMergeResponse, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.client.AskMerge(ctx, &api.AskMergeRequest{Region: pd.RegionToProto(region)})
	if err != nil {
		return pd.AskMergeResponse{}, err
	}
	out := pd.AskMergeResponse{OK: resp.Ok}
	if resp.IntoRegion != nil {
		into := pd.ProtoToRegion(resp.IntoRegion)
		out.IntoRegion = &into
	}
	return out, nil
}

func (c *Client) RegionHeartbeat(ctx context.Context, region regionpkg.Region, leader regionpkg.Peer, downPeers []pd.PeerStats) (pd.RegionHeartbeatResponse, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.client.RegionHeartbeat(ctx, &api.RegionHeartbeatRequest{
		Region:    pd.RegionToProto(region),
		Leader:    pd.PeerToProto(leader),
		DownPeers: pd.PeerStatsToProto(downPeers),
	})
	if err != nil {
		return pd.RegionHeartbeatResponse{}, err
	}
	return pd.ProtoToHeartbeatResponse(resp), nil
}

func (c *Client) StoreHeartbeat(ctx context.Context, stats pd.StoreStats) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.client.StoreHeartbeat(ctx, &api.StoreHeartbeatRequest{Stats: pd.StoreStatsToProto(stats)})
	return err
}

func (c *Client) ReportSplit(ctx context.Context, left, right regionpkg.Region) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.client.ReportSplit(ctx, &api.ReportSplitRequest{
		Left:  pd.RegionToProto(left),
		Right: pd.RegionToProto(right),
	})
	return err
}

func (c *Client) GetRegionByID(ctx context.Context, id regionpkg.ID) (*regionpkg.Region, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.client.GetRegionByID(ctx, &api.GetRegionByIDRequest{RegionId: uint64(id)})
	if err != nil {
		return nil, err
	}
	if resp.Region == nil {
		return nil, nil
	}
	region := pd.ProtoToRegion(resp.Region)
	return &region, nil
}

// Regions lists every region PD knows about.
func (c *Client) Regions(ctx context.Context) ([]regionpkg.Region, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	resp, err := c.client.ListRegions(ctx, &api.ListRegionsRequest{})
	if err != nil {
		return nil, err
	}
	out := make([]regionpkg.Region, 0, len(resp.Regions))
	for _, r := range resp.Regions {
		out = append(out, pd.ProtoToRegion(r))
	}
	return out, nil
}

// AddOperator queues a change-peer or transfer-leader directive.
func (c *Client) AddOperator(ctx context.Context, id regionpkg.ID, d pd.Directive) error {
	req := &api.AddOperatorRequest{RegionId: uint64(id)}
	switch v := d.(type) {
	case *pd.ChangePeer:
		req.ChangePeer = &api.ChangePeer{ChangeType: int32(v.ChangeType), Peer: pd.PeerToProto(v.Peer)}
	case *pd.TransferLeader:
		req.TransferLeader = &api.TransferLeader{Peer: pd.PeerToProto(v.Peer)}
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.client.AddOperator(ctx, req)
	return err
}

func (c *Client) Close() error {
	return c.conn.Close()
}
