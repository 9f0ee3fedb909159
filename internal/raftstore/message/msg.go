package message

import (
	"fmt"

	"github.com/google/uuid"

	regionpkg "nyxstore/internal/region"
)

// Msg is anything a raftstore accepts on its inbound channel.
type Msg interface {
	msg()
}

// RaftCmdHeader addresses an admin request. RegionEpoch is the epoch the
// sender expects; the receiver rejects the command if it is stale.
type RaftCmdHeader struct {
	RegionID    regionpkg.ID
	RegionEpoch regionpkg.Epoch
	Peer        regionpkg.Peer
	UUID        uuid.UUID
}

type RaftCmdRequest struct {
	Header       RaftCmdHeader
	AdminRequest AdminRequest
}

// Callback receives the apply result of a RaftCmd.
type Callback func(err error)

// RaftCmd carries an administrative request to the region's state machine.
type RaftCmd struct {
	Request  *RaftCmdRequest
	Callback Callback
}

// NewAdminCmd addresses req to region, expecting region's current epoch and
// originating from peer. Each command gets a fresh UUID and a no-op callback.
func NewAdminCmd(region regionpkg.Region, peer regionpkg.Peer, req AdminRequest) RaftCmd {
	return RaftCmd{
		Request: &RaftCmdRequest{
			Header: RaftCmdHeader{
				RegionID:    region.ID,
				RegionEpoch: region.Epoch,
				Peer:        peer,
				UUID:        uuid.New(),
			},
			AdminRequest: req,
		},
		Callback: func(error) {},
	}
}

// RaftMessage is a peer-to-peer message. Only tombstone notices are produced
// outside the consensus layer.
type RaftMessage struct {
	RegionID    regionpkg.ID
	FromPeer    regionpkg.Peer
	ToPeer      regionpkg.Peer
	RegionEpoch regionpkg.Epoch
	IsTombstone bool
}

// RollbackRegionMerge aborts the pending merge into IntoRegionID.
type RollbackRegionMerge struct {
	IntoRegionID regionpkg.ID
}

func (RaftCmd) msg()             {}
func (RaftMessage) msg()         {}
func (RollbackRegionMerge) msg() {}

func (c RaftCmd) String() string {
	if c.Request == nil {
		return "raft cmd <nil>"
	}
	return fmt.Sprintf("raft cmd %s for region %d", c.Request.AdminRequest.CmdType, c.Request.Header.RegionID)
}

func (m RaftMessage) String() string {
	return fmt.Sprintf("raft message region %d from %s to %s tombstone=%t", m.RegionID, m.FromPeer, m.ToPeer, m.IsTombstone)
}

func (m RollbackRegionMerge) String() string {
	return fmt.Sprintf("rollback merge into region %d", m.IntoRegionID)
}
