package api

// Wire messages of the placement driver service. Field names follow the
// snake_case convention of the JSON codec registered in codec.go.

type RegionRole int32

const (
	RegionRole_REGION_ROLE_UNSPECIFIED RegionRole = 0
	RegionRole_REGION_ROLE_VOTER       RegionRole = 1
	RegionRole_REGION_ROLE_LEARNER     RegionRole = 2
)

type RegionState int32

const (
	RegionState_REGION_STATE_UNSPECIFIED RegionState = 0
	RegionState_REGION_STATE_ACTIVE      RegionState = 1
	RegionState_REGION_STATE_SPLITTING   RegionState = 2
	RegionState_REGION_STATE_MERGING     RegionState = 3
	RegionState_REGION_STATE_TOMBSTONE   RegionState = 4
)

type Peer struct {
	Id      uint64     `json:"id"`
	StoreId uint64     `json:"store_id"`
	Role    RegionRole `json:"role,omitempty"`
}

type RegionEpoch struct {
	Version uint64 `json:"version"`
	ConfVer uint64 `json:"conf_ver"`
}

type Region struct {
	Id           uint64       `json:"id"`
	StartKey     []byte       `json:"start_key,omitempty"`
	EndKey       []byte       `json:"end_key,omitempty"`
	RegionEpoch  *RegionEpoch `json:"region_epoch,omitempty"`
	Peers        []*Peer      `json:"peers,omitempty"`
	State        RegionState  `json:"state,omitempty"`
	LeaderPeerId uint64       `json:"leader_peer_id,omitempty"`
}

type PeerStats struct {
	Peer        *Peer  `json:"peer,omitempty"`
	DownSeconds uint64 `json:"down_seconds,omitempty"`
}

type StoreStats struct {
	StoreId            uint64 `json:"store_id"`
	Address            string `json:"address,omitempty"`
	Capacity           uint64 `json:"capacity,omitempty"`
	Available          uint64 `json:"available,omitempty"`
	UsedSize           uint64 `json:"used_size,omitempty"`
	RegionCount        uint32 `json:"region_count,omitempty"`
	LeaderCount        uint32 `json:"leader_count,omitempty"`
	SendingSnapCount   uint32 `json:"sending_snap_count,omitempty"`
	ReceivingSnapCount uint32 `json:"receiving_snap_count,omitempty"`
	ApplyingSnapCount  uint32 `json:"applying_snap_count,omitempty"`
	IsBusy             bool   `json:"is_busy,omitempty"`
	StartTimeMs        int64  `json:"start_time_ms,omitempty"`
	TimestampMs        int64  `json:"timestamp_ms,omitempty"`
}

type ChangePeer struct {
	// ChangeType carries raftpb.ConfChangeType.
	ChangeType int32 `json:"change_type"`
	Peer       *Peer `json:"peer,omitempty"`
}

type TransferLeader struct {
	Peer *Peer `json:"peer,omitempty"`
}

type RegionMerge struct {
	FromRegion *Region `json:"from_region,omitempty"`
}

type RegionShutdown struct {
	Region *Region `json:"region,omitempty"`
}

type BootstrapRequest struct {
	Region *Region `json:"region,omitempty"`
}

type BootstrapResponse struct{}

type AskSplitRequest struct {
	Region *Region `json:"region,omitempty"`
}

type AskSplitResponse struct {
	NewRegionId uint64   `json:"new_region_id"`
	NewPeerIds  []uint64 `json:"new_peer_ids,omitempty"`
}

type AskMergeRequest struct {
	Region *Region `json:"region,omitempty"`
}

type AskMergeResponse struct {
	Ok         bool    `json:"ok"`
	IntoRegion *Region `json:"into_region,omitempty"`
}

type RegionHeartbeatRequest struct {
	Region    *Region      `json:"region,omitempty"`
	Leader    *Peer        `json:"leader,omitempty"`
	DownPeers []*PeerStats `json:"down_peers,omitempty"`
}

// RegionHeartbeatResponse sets at most one directive.
type RegionHeartbeatResponse struct {
	ChangePeer     *ChangePeer     `json:"change_peer,omitempty"`
	TransferLeader *TransferLeader `json:"transfer_leader,omitempty"`
	RegionMerge    *RegionMerge    `json:"region_merge,omitempty"`
	RegionShutdown *RegionShutdown `json:"region_shutdown,omitempty"`
}

type StoreHeartbeatRequest struct {
	Stats *StoreStats `json:"stats,omitempty"`
}

type StoreHeartbeatResponse struct{}

type ReportSplitRequest struct {
	Left  *Region `json:"left,omitempty"`
	Right *Region `json:"right,omitempty"`
}

type ReportSplitResponse struct{}

type GetRegionByIDRequest struct {
	RegionId uint64 `json:"region_id"`
}

// GetRegionByIDResponse leaves Region nil when PD does not know the region.
type GetRegionByIDResponse struct {
	Region *Region `json:"region,omitempty"`
}

type ListRegionsRequest struct{}

type ListRegionsResponse struct {
	Regions []*Region `json:"regions,omitempty"`
}

// AddOperatorRequest queues one directive for the region's next heartbeat.
type AddOperatorRequest struct {
	RegionId       uint64          `json:"region_id"`
	ChangePeer     *ChangePeer     `json:"change_peer,omitempty"`
	TransferLeader *TransferLeader `json:"transfer_leader,omitempty"`
}

type AddOperatorResponse struct{}
