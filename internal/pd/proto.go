package pd

import (
	"time"

	"go.etcd.io/etcd/raft/v3/raftpb"

	regionpkg "nyxstore/internal/region"
	api "nyxstore/pkg/api"
)

func protoRoleToPeerRole(role api.RegionRole) regionpkg.PeerRole {
	switch role {
	case api.RegionRole_REGION_ROLE_LEARNER:
		return regionpkg.Learner
	default:
		return regionpkg.Voter
	}
}

func PeerRoleToProto(role regionpkg.PeerRole) api.RegionRole {
	switch role {
	case regionpkg.Voter:
		return api.RegionRole_REGION_ROLE_VOTER
	case regionpkg.Learner:
		return api.RegionRole_REGION_ROLE_LEARNER
	default:
		return api.RegionRole_REGION_ROLE_UNSPECIFIED
	}
}

func PeerToProto(p regionpkg.Peer) *api.Peer {
	return &api.Peer{Id: p.ID, StoreId: p.StoreID, Role: PeerRoleToProto(p.Role)}
}

func ProtoToPeer(p *api.Peer) regionpkg.Peer {
	if p == nil {
		return regionpkg.Peer{}
	}
	return regionpkg.Peer{ID: p.Id, StoreID: p.StoreId, Role: protoRoleToPeerRole(p.Role)}
}

// RegionToProto converts region metadata into its wire form.
func RegionToProto(region regionpkg.Region) *api.Region {
	desc := &api.Region{
		Id:       uint64(region.ID),
		StartKey: append([]byte(nil), region.Range.Start...),
		EndKey:   append([]byte(nil), region.Range.End...),
		RegionEpoch: &api.RegionEpoch{
			Version: region.Epoch.Version,
			ConfVer: region.Epoch.ConfVersion,
		},
		State:        regionStateToProto(region.State),
		LeaderPeerId: region.Leader,
	}
	for _, p := range region.Peers {
		desc.Peers = append(desc.Peers, PeerToProto(p))
	}
	return desc
}

// ProtoToRegion converts a wire region into metadata. A nil input yields the
// zero Region.
func ProtoToRegion(desc *api.Region) regionpkg.Region {
	if desc == nil {
		return regionpkg.Region{}
	}
	region := regionpkg.Region{
		ID: regionpkg.ID(desc.Id),
		Range: regionpkg.KeyRange{
			Start: append([]byte(nil), desc.StartKey...),
			End:   append([]byte(nil), desc.EndKey...),
		},
		State:  protoStateToRegionState(desc.State),
		Leader: desc.LeaderPeerId,
	}
	if desc.RegionEpoch != nil {
		region.Epoch = regionpkg.Epoch{Version: desc.RegionEpoch.Version, ConfVersion: desc.RegionEpoch.ConfVer}
	}
	for _, p := range desc.Peers {
		region.Peers = append(region.Peers, ProtoToPeer(p))
	}
	return region
}

func regionStateToProto(state regionpkg.State) api.RegionState {
	switch state {
	case regionpkg.StateActive:
		return api.RegionState_REGION_STATE_ACTIVE
	case regionpkg.StateSplitting:
		return api.RegionState_REGION_STATE_SPLITTING
	case regionpkg.StateMerging:
		return api.RegionState_REGION_STATE_MERGING
	case regionpkg.StateTombstone:
		return api.RegionState_REGION_STATE_TOMBSTONE
	default:
		return api.RegionState_REGION_STATE_UNSPECIFIED
	}
}

func protoStateToRegionState(state api.RegionState) regionpkg.State {
	switch state {
	case api.RegionState_REGION_STATE_SPLITTING:
		return regionpkg.StateSplitting
	case api.RegionState_REGION_STATE_MERGING:
		return regionpkg.StateMerging
	case api.RegionState_REGION_STATE_TOMBSTONE:
		return regionpkg.StateTombstone
	default:
		return regionpkg.StateActive
	}
}

func PeerStatsToProto(stats []PeerStats) []*api.PeerStats {
	if len(stats) == 0 {
		return nil
	}
	out := make([]*api.PeerStats, 0, len(stats))
	for _, s := range stats {
		out = append(out, &api.PeerStats{Peer: PeerToProto(s.Peer), DownSeconds: s.DownSeconds})
	}
	return out
}

func ProtoToPeerStats(stats []*api.PeerStats) []PeerStats {
	if len(stats) == 0 {
		return nil
	}
	out := make([]PeerStats, 0, len(stats))
	for _, s := range stats {
		if s == nil {
			continue
		}
		out = append(out, PeerStats{Peer: ProtoToPeer(s.Peer), DownSeconds: s.DownSeconds})
	}
	return out
}

func StoreStatsToProto(s StoreStats) *api.StoreStats {
	out := &api.StoreStats{
		StoreId:            s.StoreID,
		Address:            s.Address,
		Capacity:           s.Capacity,
		Available:          s.Available,
		UsedSize:           s.UsedSize,
		RegionCount:        s.RegionCount,
		LeaderCount:        s.LeaderCount,
		SendingSnapCount:   s.SendingSnapCount,
		ReceivingSnapCount: s.ReceivingSnapCount,
		ApplyingSnapCount:  s.ApplyingSnapCount,
		IsBusy:             s.IsBusy,
	}
	if !s.StartTime.IsZero() {
		out.StartTimeMs = s.StartTime.UnixMilli()
	}
	if !s.Timestamp.IsZero() {
		out.TimestampMs = s.Timestamp.UnixMilli()
	}
	return out
}

func ProtoToStoreStats(p *api.StoreStats) StoreStats {
	if p == nil {
		return StoreStats{}
	}
	out := StoreStats{
		StoreID:            p.StoreId,
		Address:            p.Address,
		Capacity:           p.Capacity,
		Available:          p.Available,
		UsedSize:           p.UsedSize,
		RegionCount:        p.RegionCount,
		LeaderCount:        p.LeaderCount,
		SendingSnapCount:   p.SendingSnapCount,
		ReceivingSnapCount: p.ReceivingSnapCount,
		ApplyingSnapCount:  p.ApplyingSnapCount,
		IsBusy:             p.IsBusy,
	}
	if p.StartTimeMs != 0 {
		out.StartTime = time.UnixMilli(p.StartTimeMs)
	}
	if p.TimestampMs != 0 {
		out.Timestamp = time.UnixMilli(p.TimestampMs)
	}
	return out
}

func changePeerToProto(c *ChangePeer) *api.ChangePeer {
	if c == nil {
		return nil
	}
	return &api.ChangePeer{ChangeType: int32(c.ChangeType), Peer: PeerToProto(c.Peer)}
}

func protoToChangePeer(c *api.ChangePeer) *ChangePeer {
	if c == nil {
		return nil
	}
	return &ChangePeer{ChangeType: raftpb.ConfChangeType(c.ChangeType), Peer: ProtoToPeer(c.Peer)}
}

func transferLeaderToProto(t *TransferLeader) *api.TransferLeader {
	if t == nil {
		return nil
	}
	return &api.TransferLeader{Peer: PeerToProto(t.Peer)}
}

func protoToTransferLeader(t *api.TransferLeader) *TransferLeader {
	if t == nil {
		return nil
	}
	return &TransferLeader{Peer: ProtoToPeer(t.Peer)}
}

// HeartbeatResponseToProto converts every populated directive field.
func HeartbeatResponseToProto(r RegionHeartbeatResponse) *api.RegionHeartbeatResponse {
	out := &api.RegionHeartbeatResponse{
		ChangePeer:     changePeerToProto(r.ChangePeer),
		TransferLeader: transferLeaderToProto(r.TransferLeader),
	}
	if r.RegionMerge != nil {
		out.RegionMerge = &api.RegionMerge{FromRegion: RegionToProto(r.RegionMerge.FromRegion)}
	}
	if r.RegionShutdown != nil {
		out.RegionShutdown = &api.RegionShutdown{Region: RegionToProto(r.RegionShutdown.Region)}
	}
	return out
}

// ProtoToHeartbeatResponse keeps every populated field; priority is resolved
// by RegionHeartbeatResponse.Directive.
func ProtoToHeartbeatResponse(p *api.RegionHeartbeatResponse) RegionHeartbeatResponse {
	if p == nil {
		return RegionHeartbeatResponse{}
	}
	out := RegionHeartbeatResponse{
		ChangePeer:     protoToChangePeer(p.ChangePeer),
		TransferLeader: protoToTransferLeader(p.TransferLeader),
	}
	if p.RegionMerge != nil {
		out.RegionMerge = &RegionMerge{FromRegion: ProtoToRegion(p.RegionMerge.FromRegion)}
	}
	if p.RegionShutdown != nil {
		out.RegionShutdown = &RegionShutdown{Region: ProtoToRegion(p.RegionShutdown.Region)}
	}
	return out
}

// ProtoToOperator extracts the directive of an AddOperator request.
func ProtoToOperator(req *api.AddOperatorRequest) Directive {
	if req == nil {
		return nil
	}
	if req.ChangePeer != nil {
		return protoToChangePeer(req.ChangePeer)
	}
	if req.TransferLeader != nil {
		return protoToTransferLeader(req.TransferLeader)
	}
	return nil
}
