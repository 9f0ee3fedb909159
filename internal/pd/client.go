package pd

import (
	"context"
	"time"

	regionpkg "nyxstore/internal/region"

	"go.etcd.io/etcd/raft/v3/raftpb"
)

// Client is the store-side view of the placement driver. Implementations own
// transport, retries and RPC timeouts; callers only see success or failure.
type Client interface {
	// AskSplit asks PD for a new region id and peer ids to split region.
	AskSplit(ctx context.Context, region regionpkg.Region) (AskSplitResponse, error)
	// AskMerge asks PD whether region may be merged into a sibling.
	AskMerge(ctx context.Context, region regionpkg.Region) (AskMergeResponse, error)
	// RegionHeartbeat reports a region led by leader and returns at most one
	// scheduling directive.
	RegionHeartbeat(ctx context.Context, region regionpkg.Region, leader regionpkg.Peer, downPeers []PeerStats) (RegionHeartbeatResponse, error)
	// StoreHeartbeat reports node level statistics.
	StoreHeartbeat(ctx context.Context, stats StoreStats) error
	// ReportSplit tells PD that a split already finished locally.
	ReportSplit(ctx context.Context, left, right regionpkg.Region) error
	// GetRegionByID returns PD's copy of the region, or nil if PD does not
	// know it.
	GetRegionByID(ctx context.Context, id regionpkg.ID) (*regionpkg.Region, error)
}

// AskSplitResponse carries the ids PD allocated for the right-hand region.
type AskSplitResponse struct {
	NewRegionID regionpkg.ID
	// NewPeerIDs holds one id per peer of the splitting region, in order.
	NewPeerIDs []uint64
}

// AskMergeResponse reports whether PD permits the merge.
type AskMergeResponse struct {
	OK         bool
	IntoRegion *regionpkg.Region
}

// PeerStats describes a peer the leader believes is down.
type PeerStats struct {
	Peer        regionpkg.Peer
	DownSeconds uint64
}

// StoreStats aggregates store level information reported to PD.
type StoreStats struct {
	StoreID            uint64
	Address            string
	Capacity           uint64
	Available          uint64
	UsedSize           uint64
	RegionCount        uint32
	LeaderCount        uint32
	SendingSnapCount   uint32
	ReceivingSnapCount uint32
	ApplyingSnapCount  uint32
	IsBusy             bool
	StartTime          time.Time
	Timestamp          time.Time
}

// ChangePeer asks the leader to add or remove a replica.
type ChangePeer struct {
	ChangeType raftpb.ConfChangeType
	Peer       regionpkg.Peer
}

// TransferLeader asks the leader to hand leadership to Peer.
type TransferLeader struct {
	Peer regionpkg.Peer
}

// RegionMerge asks the receiving region to absorb FromRegion.
type RegionMerge struct {
	FromRegion regionpkg.Region
}

// RegionShutdown asks a merged-away region to shut down.
type RegionShutdown struct {
	Region regionpkg.Region
}

// RegionHeartbeatResponse mirrors the wire response. The protocol sets at
// most one field; Directive resolves responses that set more than one.
type RegionHeartbeatResponse struct {
	ChangePeer     *ChangePeer
	TransferLeader *TransferLeader
	RegionMerge    *RegionMerge
	RegionShutdown *RegionShutdown
}

// Directive is one scheduling decision carried by a heartbeat response. It is
// implemented by *ChangePeer, *TransferLeader, *RegionMerge and
// *RegionShutdown.
type Directive interface {
	directiveName() string
}

func (*ChangePeer) directiveName() string     { return "change peer" }
func (*TransferLeader) directiveName() string { return "transfer leader" }
func (*RegionMerge) directiveName() string    { return "region merge" }
func (*RegionShutdown) directiveName() string { return "region shutdown" }

// DirectiveName returns the label used for logs and metrics.
func DirectiveName(d Directive) string {
	if d == nil {
		return "none"
	}
	return d.directiveName()
}

// Directive returns the first populated field in the order change peer,
// transfer leader, region merge, region shutdown, or nil.
func (r RegionHeartbeatResponse) Directive() Directive {
	switch {
	case r.ChangePeer != nil:
		return r.ChangePeer
	case r.TransferLeader != nil:
		return r.TransferLeader
	case r.RegionMerge != nil:
		return r.RegionMerge
	case r.RegionShutdown != nil:
		return r.RegionShutdown
	default:
		return nil
	}
}

// ResponseFor wraps a single directive into a heartbeat response.
func ResponseFor(d Directive) RegionHeartbeatResponse {
	var resp RegionHeartbeatResponse
	switch v := d.(type) {
	case *ChangePeer:
		resp.ChangePeer = v
	case *TransferLeader:
		resp.TransferLeader = v
	case *RegionMerge:
		resp.RegionMerge = v
	case *RegionShutdown:
		resp.RegionShutdown = v
	}
	return resp
}
