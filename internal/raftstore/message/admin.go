// Package message defines the commands a raftstore consumes from its
// background workers.
package message

import (
	"fmt"

	"go.etcd.io/etcd/raft/v3/raftpb"

	regionpkg "nyxstore/internal/region"
)

// AdminCmdType names the populated variant of an AdminRequest.
type AdminCmdType int

const (
	AdminCmdInvalid AdminCmdType = iota
	AdminCmdChangePeer
	AdminCmdSplit
	AdminCmdTransferLeader
	AdminCmdMerge
	AdminCmdShutdownRegion
)

func (t AdminCmdType) String() string {
	switch t {
	case AdminCmdChangePeer:
		return "ChangePeer"
	case AdminCmdSplit:
		return "Split"
	case AdminCmdTransferLeader:
		return "TransferLeader"
	case AdminCmdMerge:
		return "Merge"
	case AdminCmdShutdownRegion:
		return "ShutdownRegion"
	default:
		return fmt.Sprintf("AdminCmdType(%d)", int(t))
	}
}

type ChangePeerRequest struct {
	ChangeType raftpb.ConfChangeType
	Peer       regionpkg.Peer
}

type SplitRequest struct {
	SplitKey    []byte
	NewRegionID regionpkg.ID
	// NewPeerIDs pairs positionally with the peers of the splitting region.
	NewPeerIDs []uint64
}

type TransferLeaderRequest struct {
	Peer regionpkg.Peer
}

type MergeRequest struct {
	FromRegion regionpkg.Region
}

type ShutdownRegionRequest struct {
	Region regionpkg.Region
}

// AdminRequest is a tagged union; only the field matching CmdType is set.
type AdminRequest struct {
	CmdType        AdminCmdType
	ChangePeer     *ChangePeerRequest
	Split          *SplitRequest
	TransferLeader *TransferLeaderRequest
	Merge          *MergeRequest
	ShutdownRegion *ShutdownRegionRequest
}

func NewChangePeerRequest(changeType raftpb.ConfChangeType, peer regionpkg.Peer) AdminRequest {
	return AdminRequest{
		CmdType:    AdminCmdChangePeer,
		ChangePeer: &ChangePeerRequest{ChangeType: changeType, Peer: peer},
	}
}

func NewSplitRequest(splitKey []byte, newRegionID regionpkg.ID, newPeerIDs []uint64) AdminRequest {
	return AdminRequest{
		CmdType: AdminCmdSplit,
		Split: &SplitRequest{
			SplitKey:    splitKey,
			NewRegionID: newRegionID,
			NewPeerIDs:  newPeerIDs,
		},
	}
}

func NewTransferLeaderRequest(peer regionpkg.Peer) AdminRequest {
	return AdminRequest{
		CmdType:        AdminCmdTransferLeader,
		TransferLeader: &TransferLeaderRequest{Peer: peer},
	}
}

func NewMergeRequest(fromRegion regionpkg.Region) AdminRequest {
	return AdminRequest{
		CmdType: AdminCmdMerge,
		Merge:   &MergeRequest{FromRegion: fromRegion},
	}
}

func NewShutdownRegionRequest(region regionpkg.Region) AdminRequest {
	return AdminRequest{
		CmdType:        AdminCmdShutdownRegion,
		ShutdownRegion: &ShutdownRegionRequest{Region: region},
	}
}
