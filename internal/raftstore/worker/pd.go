package worker

import (
	"context"

	"go.uber.org/zap"

	"nyxstore/internal/pd"
	"nyxstore/internal/raftstore/message"
	regionpkg "nyxstore/internal/region"
)

// PDRunner executes PDTasks against the placement driver and turns its
// answers into messages for the raftstore. It keeps no state between tasks;
// every failure is logged and the task is dropped.
type PDRunner struct {
	client   pd.Client
	sender   message.Sender
	observer Observer
	logger   *zap.Logger
}

// PDRunnerOption customises a PDRunner.
type PDRunnerOption func(*PDRunner)

func WithObserver(o Observer) PDRunnerOption {
	return func(r *PDRunner) {
		if o != nil {
			r.observer = o
		}
	}
}

func WithLogger(logger *zap.Logger) PDRunnerOption {
	return func(r *PDRunner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewPDRunner(client pd.Client, sender message.Sender, opts ...PDRunnerOption) *PDRunner {
	r := &PDRunner{
		client:   client,
		sender:   sender,
		observer: nopObserver{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run handles a single task.
func (r *PDRunner) Run(ctx context.Context, task PDTask) {
	switch t := task.(type) {
	case AskSplitTask:
		r.handleAskSplit(ctx, t)
	case AskMergeTask:
		r.handleAskMerge(ctx, t)
	case HeartbeatTask:
		r.handleHeartbeat(ctx, t)
	case StoreHeartbeatTask:
		r.handleStoreHeartbeat(ctx, t)
	case ReportSplitTask:
		r.handleReportSplit(ctx, t)
	case ValidatePeerTask:
		r.handleValidatePeer(ctx, t)
	case ValidateMergeRegionTask:
		r.handleValidateMergeRegion(ctx, t)
	default:
		r.logger.Warn("unknown pd task", zap.Stringer("task", task))
	}
}

func (r *PDRunner) finish(kind string, err error) {
	r.observer.OnRequest(kind, OutcomeAll)
	if err != nil {
		r.observer.OnRequest(kind, OutcomeFailure)
		return
	}
	r.observer.OnRequest(kind, OutcomeSuccess)
}

func (r *PDRunner) sendAdminRequest(region regionpkg.Region, peer regionpkg.Peer, req message.AdminRequest) {
	cmd := message.NewAdminCmd(region, peer, req)
	if err := r.sender.TrySend(cmd); err != nil {
		r.logger.Error("send admin request failed",
			zap.Uint64("region_id", uint64(region.ID)),
			zap.Stringer("cmd_type", req.CmdType),
			zap.Error(err))
	}
}

func (r *PDRunner) handleAskSplit(ctx context.Context, t AskSplitTask) {
	resp, err := r.client.AskSplit(ctx, t.Region)
	r.finish(RequestAskSplit, err)
	if err != nil {
		r.logger.Debug("ask split failed",
			zap.Uint64("region_id", uint64(t.Region.ID)),
			zap.Error(err))
		return
	}
	r.logger.Info("try to split region",
		zap.Uint64("region_id", uint64(t.Region.ID)),
		zap.Uint64("new_region_id", uint64(resp.NewRegionID)),
		zap.Stringer("region", t.Region))
	req := message.NewSplitRequest(t.SplitKey, resp.NewRegionID, resp.NewPeerIDs)
	r.sendAdminRequest(t.Region, t.Peer, req)
}

func (r *PDRunner) handleAskMerge(ctx context.Context, t AskMergeTask) {
	resp, err := r.client.AskMerge(ctx, t.Region)
	if err != nil {
		r.finish(RequestAskMerge, err)
		r.logger.Debug("ask merge failed",
			zap.Uint64("region_id", uint64(t.Region.ID)),
			zap.Error(err))
		return
	}
	if !resp.OK {
		// Rejections count as requests but not as failures.
		r.observer.OnRequest(RequestAskMerge, OutcomeAll)
		r.logger.Info("pd rejects ask merge", zap.Uint64("region_id", uint64(t.Region.ID)))
		return
	}
	r.finish(RequestAskMerge, nil)
	fields := []zap.Field{zap.Uint64("region_id", uint64(t.Region.ID))}
	if resp.IntoRegion != nil {
		fields = append(fields, zap.Stringer("into_region", *resp.IntoRegion))
	}
	r.logger.Info("pd permits ask merge, region will be merged later", fields...)
}

func (r *PDRunner) handleHeartbeat(ctx context.Context, t HeartbeatTask) {
	resp, err := r.client.RegionHeartbeat(ctx, t.Region, t.Peer, t.DownPeers)
	r.finish(RequestHeartbeat, err)
	if err != nil {
		r.logger.Debug("region heartbeat failed",
			zap.Uint64("region_id", uint64(t.Region.ID)),
			zap.Error(err))
		return
	}

	d := resp.Directive()
	if d == nil {
		return
	}
	r.observer.OnHeartbeatDirective(pd.DirectiveName(d))
	regionID := zap.Uint64("region_id", uint64(t.Region.ID))

	switch d := d.(type) {
	case *pd.ChangePeer:
		r.logger.Info("try to change peer",
			regionID,
			zap.Stringer("change_type", d.ChangeType),
			zap.Stringer("peer", d.Peer))
		r.sendAdminRequest(t.Region, t.Peer, message.NewChangePeerRequest(d.ChangeType, d.Peer))
	case *pd.TransferLeader:
		r.logger.Info("try to transfer leader",
			regionID,
			zap.Stringer("from", t.Peer),
			zap.Stringer("to", d.Peer))
		r.sendAdminRequest(t.Region, t.Peer, message.NewTransferLeaderRequest(d.Peer))
	case *pd.RegionMerge:
		r.logger.Info("try to merge region",
			regionID,
			zap.Stringer("from_region", d.FromRegion))
		r.sendAdminRequest(t.Region, t.Peer, message.NewMergeRequest(d.FromRegion))
	case *pd.RegionShutdown:
		r.logger.Info("try to shutdown region after merge",
			regionID,
			zap.Stringer("shutdown_region", d.Region))
		r.sendAdminRequest(t.Region, t.Peer, message.NewShutdownRegionRequest(d.Region))
	}
}

func (r *PDRunner) handleStoreHeartbeat(ctx context.Context, t StoreHeartbeatTask) {
	err := r.client.StoreHeartbeat(ctx, t.Stats)
	r.finish(RequestStoreHeartbeat, err)
	if err != nil {
		r.logger.Error("store heartbeat failed",
			zap.Uint64("store_id", t.Stats.StoreID),
			zap.Error(err))
	}
}

func (r *PDRunner) handleReportSplit(ctx context.Context, t ReportSplitTask) {
	err := r.client.ReportSplit(ctx, t.Left, t.Right)
	r.finish(RequestReportSplit, err)
	if err != nil {
		r.logger.Error("report split failed",
			zap.Uint64("left_region_id", uint64(t.Left.ID)),
			zap.Uint64("right_region_id", uint64(t.Right.ID)),
			zap.Error(err))
	}
}

func (r *PDRunner) handleValidatePeer(ctx context.Context, t ValidatePeerTask) {
	local := t.Region
	fields := []zap.Field{
		zap.Uint64("region_id", uint64(local.ID)),
		zap.Uint64("peer_id", t.Peer.ID),
	}
	pdRegion, err := r.client.GetRegionByID(ctx, local.ID)
	r.finish(RequestGetRegion, err)
	if err != nil {
		r.logger.Error("get region failed", append(fields, zap.Error(err))...)
		return
	}
	if pdRegion == nil {
		// A freshly split region may not be reported yet.
		return
	}
	if regionpkg.IsEpochStale(pdRegion.Epoch, local.Epoch) {
		r.observer.OnValidatePeer(ValidateEpochError)
		r.logger.Error("local region epoch is newer than pd",
			append(fields,
				zap.Stringer("local_epoch", local.Epoch),
				zap.Stringer("pd_epoch", pdRegion.Epoch))...)
		return
	}
	if !pdRegion.HasPeer(t.Peer) {
		r.observer.OnValidatePeer(ValidatePeerStale)
		r.logger.Info("peer is no longer a member of region, destroying",
			append(fields, zap.Stringer("pd_region", *pdRegion))...)
		r.sendDestroyPeerMessage(local, t.Peer, *pdRegion)
		return
	}
	r.observer.OnValidatePeer(ValidatePeerValid)
	r.logger.Debug("peer is still valid", append(fields, zap.Stringer("pd_region", *pdRegion))...)
}

func (r *PDRunner) sendDestroyPeerMessage(local regionpkg.Region, peer regionpkg.Peer, pdRegion regionpkg.Region) {
	msg := message.RaftMessage{
		RegionID:    local.ID,
		FromPeer:    peer,
		ToPeer:      peer,
		RegionEpoch: pdRegion.Epoch,
		IsTombstone: true,
	}
	if err := r.sender.TrySend(msg); err != nil {
		r.logger.Error("send gc peer request failed",
			zap.Uint64("region_id", uint64(local.ID)),
			zap.Error(err))
	}
}

func (r *PDRunner) handleValidateMergeRegion(ctx context.Context, t ValidateMergeRegionTask) {
	found, err := r.client.GetRegionByID(ctx, t.FromRegion.ID)
	r.finish(RequestGetRegion, err)
	if err != nil {
		r.logger.Error("get region failed",
			zap.Uint64("region_id", uint64(t.FromRegion.ID)),
			zap.Error(err))
		return
	}
	// A missing source means a split or an earlier merge raced this one; a
	// newer epoch at PD means the local copy of the source is outdated.
	if found != nil && !regionpkg.IsEpochStale(t.FromRegion.Epoch, found.Epoch) {
		return
	}
	r.logger.Info("rolling back region merge",
		zap.Uint64("region_id", uint64(t.IntoRegionID)),
		zap.Uint64("from_region_id", uint64(t.FromRegion.ID)),
		zap.Bool("source_missing", found == nil))
	if err := r.sender.TrySend(message.RollbackRegionMerge{IntoRegionID: t.IntoRegionID}); err != nil {
		r.logger.Error("send validate merge region result failed",
			zap.Uint64("region_id", uint64(t.IntoRegionID)),
			zap.Error(err))
	}
}
