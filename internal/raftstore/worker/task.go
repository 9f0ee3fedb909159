package worker

import (
	"fmt"

	"nyxstore/internal/pd"
	regionpkg "nyxstore/internal/region"
)

// PDTask is one unit of work for PDRunner. Tasks own cloned region snapshots
// and are never mutated after scheduling.
type PDTask interface {
	fmt.Stringer
	pdTask()
}

type AskSplitTask struct {
	Region   regionpkg.Region
	SplitKey []byte
	Peer     regionpkg.Peer
}

type AskMergeTask struct {
	Region regionpkg.Region
}

// HeartbeatTask reports a region led by Peer.
type HeartbeatTask struct {
	Region    regionpkg.Region
	Peer      regionpkg.Peer
	DownPeers []pd.PeerStats
}

type StoreHeartbeatTask struct {
	Stats pd.StoreStats
}

type ReportSplitTask struct {
	Left  regionpkg.Region
	Right regionpkg.Region
}

// ValidatePeerTask checks that Peer still belongs to Region according to PD.
type ValidatePeerTask struct {
	Region regionpkg.Region
	Peer   regionpkg.Peer
}

// ValidateMergeRegionTask checks that FromRegion is still the region PD knows
// before it is merged into IntoRegionID.
type ValidateMergeRegionTask struct {
	FromRegion   regionpkg.Region
	IntoRegionID regionpkg.ID
}

func (AskSplitTask) pdTask()            {}
func (AskMergeTask) pdTask()            {}
func (HeartbeatTask) pdTask()           {}
func (StoreHeartbeatTask) pdTask()      {}
func (ReportSplitTask) pdTask()         {}
func (ValidatePeerTask) pdTask()        {}
func (ValidateMergeRegionTask) pdTask() {}

func (t AskSplitTask) String() string {
	return fmt.Sprintf("ask split region %d with key %q", t.Region.ID, t.SplitKey)
}

func (t AskMergeTask) String() string {
	return fmt.Sprintf("ask merge region %d", t.Region.ID)
}

func (t HeartbeatTask) String() string {
	return fmt.Sprintf("heartbeat for region %s, leader %d", t.Region, t.Peer.ID)
}

func (t StoreHeartbeatTask) String() string {
	return fmt.Sprintf("store heartbeat for store %d, regions %d", t.Stats.StoreID, t.Stats.RegionCount)
}

func (t ReportSplitTask) String() string {
	return fmt.Sprintf("report split left %s, right %s", t.Left, t.Right)
}

func (t ValidatePeerTask) String() string {
	return fmt.Sprintf("validate peer %s with region %s", t.Peer, t.Region)
}

func (t ValidateMergeRegionTask) String() string {
	return fmt.Sprintf("validate merge region %s for region id %d", t.FromRegion, t.IntoRegionID)
}
