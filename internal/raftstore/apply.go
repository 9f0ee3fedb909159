package raftstore

import (
	"bytes"
	"fmt"

	"github.com/cockroachdb/pebble"
	"go.etcd.io/etcd/raft/v3/raftpb"
	"go.uber.org/zap"

	"nyxstore/internal/raftstore/keys"
	"nyxstore/internal/raftstore/message"
	"nyxstore/internal/raftstore/worker"
	regionpkg "nyxstore/internal/region"
)

func (s *Store) applyAdmin(req *message.RaftCmdRequest) error {
	if req == nil {
		return fmt.Errorf("raft cmd without request")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.applyAdminLocked(req)
	if err != nil {
		s.rejected++
		return err
	}
	s.applied++
	return nil
}

func (s *Store) applyAdminLocked(req *message.RaftCmdRequest) error {
	region, err := s.liveRegionLocked(req.Header.RegionID)
	if err != nil {
		return err
	}
	if regionpkg.IsEpochStale(req.Header.RegionEpoch, region.Epoch) {
		return fmt.Errorf("%w: region %d expects %s, local %s",
			ErrStaleCommand, region.ID, req.Header.RegionEpoch, region.Epoch)
	}
	admin := req.AdminRequest
	switch admin.CmdType {
	case message.AdminCmdChangePeer:
		if admin.ChangePeer == nil {
			break
		}
		return s.applyChangePeerLocked(region, admin.ChangePeer)
	case message.AdminCmdSplit:
		if admin.Split == nil {
			break
		}
		return s.applySplitLocked(region, admin.Split)
	case message.AdminCmdTransferLeader:
		if admin.TransferLeader == nil {
			break
		}
		return s.applyTransferLeaderLocked(region, admin.TransferLeader)
	case message.AdminCmdMerge:
		if admin.Merge == nil {
			break
		}
		return s.applyMergeLocked(region, admin.Merge)
	case message.AdminCmdShutdownRegion:
		if admin.ShutdownRegion == nil {
			break
		}
		return s.applyShutdownLocked(region, admin.ShutdownRegion)
	}
	return fmt.Errorf("malformed admin request %s for region %d", admin.CmdType, region.ID)
}

func (s *Store) applyChangePeerLocked(region *regionpkg.Region, req *message.ChangePeerRequest) error {
	next := region.Clone()
	switch req.ChangeType {
	case raftpb.ConfChangeAddNode, raftpb.ConfChangeAddLearnerNode:
		role := regionpkg.Voter
		if req.ChangeType == raftpb.ConfChangeAddLearnerNode {
			role = regionpkg.Learner
		}
		found := false
		for i := range next.Peers {
			if next.Peers[i].ID != req.Peer.ID {
				continue
			}
			if next.Peers[i].Role == role {
				return nil
			}
			next.Peers[i].Role = role
			found = true
		}
		if !found {
			next.Peers = append(next.Peers, regionpkg.Peer{ID: req.Peer.ID, StoreID: req.Peer.StoreID, Role: role})
		}
	case raftpb.ConfChangeRemoveNode:
		if !next.RemovePeer(req.Peer.ID) {
			return nil
		}
		if next.Leader == req.Peer.ID {
			next.Leader = 0
		}
	default:
		return fmt.Errorf("unsupported conf change %s", req.ChangeType)
	}
	next.Epoch.ConfVersion++

	removedLocal := req.ChangeType == raftpb.ConfChangeRemoveNode && req.Peer.StoreID == s.cfg.StoreID
	if removedLocal {
		next.State = regionpkg.StateTombstone
		next.Leader = 0
	}
	if err := s.saveLocked(next); err != nil {
		return err
	}
	s.logger.Info("peer changed",
		zap.Uint64("region_id", uint64(next.ID)),
		zap.Stringer("change_type", req.ChangeType),
		zap.Stringer("peer", req.Peer),
		zap.Stringer("epoch", next.Epoch))
	if removedLocal {
		s.dropPendingMergeLocked(next.ID)
		s.cleanupRegionDataLocked(next)
	}
	return nil
}

func validSplitKey(region *regionpkg.Region, key []byte) bool {
	return len(key) > 0 && region.ContainsKey(key) && !bytes.Equal(key, region.Range.Start)
}

func (s *Store) applySplitLocked(region *regionpkg.Region, req *message.SplitRequest) error {
	if !validSplitKey(region, req.SplitKey) {
		return fmt.Errorf("%w: %q for region %s", ErrInvalidSplitKey, req.SplitKey, *region)
	}
	if len(req.NewPeerIDs) != len(region.Peers) {
		return fmt.Errorf("split of region %d carries %d peer ids for %d peers",
			region.ID, len(req.NewPeerIDs), len(region.Peers))
	}
	if _, exists := s.regions[req.NewRegionID]; exists || req.NewRegionID == 0 {
		return fmt.Errorf("split target region id %d is unusable", req.NewRegionID)
	}

	key := append([]byte(nil), req.SplitKey...)
	left := region.Clone()
	right := region.Clone()
	left.Range.End = key
	left.Epoch.Version++
	right.ID = req.NewRegionID
	right.Range.Start = append([]byte(nil), key...)
	right.Epoch = left.Epoch
	right.State = regionpkg.StateActive
	right.Leader = 0
	for i := range right.Peers {
		if region.Peers[i].ID == region.Leader {
			right.Leader = req.NewPeerIDs[i]
		}
		right.Peers[i].ID = req.NewPeerIDs[i]
	}
	if err := s.saveLocked(left, right); err != nil {
		return err
	}
	s.logger.Info("region split",
		zap.Uint64("region_id", uint64(left.ID)),
		zap.Uint64("new_region_id", uint64(right.ID)),
		zap.ByteString("split_key", key))
	if s.isLeader(&left) {
		s.schedulePD(worker.ReportSplitTask{Left: left.Clone(), Right: right.Clone()})
	}
	return nil
}

func (s *Store) applyTransferLeaderLocked(region *regionpkg.Region, req *message.TransferLeaderRequest) error {
	if !region.HasPeer(req.Peer) {
		return fmt.Errorf("transfer leader of region %d to non-member %s", region.ID, req.Peer)
	}
	next := region.Clone()
	next.Leader = req.Peer.ID
	if err := s.saveLocked(next); err != nil {
		return err
	}
	s.logger.Info("leader transferred",
		zap.Uint64("region_id", uint64(next.ID)),
		zap.Stringer("leader", req.Peer))
	return nil
}

func (s *Store) applyMergeLocked(into *regionpkg.Region, req *message.MergeRequest) error {
	if _, busy := s.merges[into.ID]; busy {
		return fmt.Errorf("%w: region %d", ErrMergeInProgress, into.ID)
	}
	from := req.FromRegion.Clone()
	var merged regionpkg.KeyRange
	switch {
	case len(from.Range.End) > 0 && bytes.Equal(from.Range.End, into.Range.Start):
		merged = regionpkg.KeyRange{Start: from.Range.Start, End: into.Range.End}
	case len(into.Range.End) > 0 && bytes.Equal(into.Range.End, from.Range.Start):
		merged = regionpkg.KeyRange{Start: into.Range.Start, End: from.Range.End}
	default:
		return fmt.Errorf("region %s is not adjacent to %s", from, *into)
	}

	pending := pendingMerge{Before: makeRegionEntry(into.Clone()), From: makeRegionEntry(from)}
	next := into.Clone()
	next.Range = regionpkg.KeyRange{
		Start: append([]byte(nil), merged.Start...),
		End:   append([]byte(nil), merged.End...),
	}
	next.State = regionpkg.StateMerging
	next.Epoch.Version = max(into.Epoch.Version, from.Epoch.Version) + 1

	if err := s.meta.putMerge(into.ID, pending); err != nil {
		return fmt.Errorf("persist pending merge: %w", err)
	}
	if err := s.saveLocked(next); err != nil {
		return err
	}
	s.merges[into.ID] = pending
	s.logger.Info("region merge started",
		zap.Uint64("region_id", uint64(into.ID)),
		zap.Uint64("from_region_id", uint64(from.ID)),
		zap.Stringer("epoch", next.Epoch))
	s.schedulePD(worker.ValidateMergeRegionTask{FromRegion: from, IntoRegionID: into.ID})
	return nil
}

func (s *Store) applyShutdownLocked(region *regionpkg.Region, req *message.ShutdownRegionRequest) error {
	if req.Region.ID != region.ID {
		return fmt.Errorf("shutdown of region %d addressed to region %d", req.Region.ID, region.ID)
	}
	next := region.Clone()
	next.State = regionpkg.StateTombstone
	next.Leader = 0
	if err := s.saveLocked(next); err != nil {
		return err
	}
	s.logger.Info("merged region shut down", zap.Uint64("region_id", uint64(region.ID)))
	s.dropPendingMergeLocked(region.ID)

	for intoID, pm := range s.merges {
		if regionpkg.ID(pm.From.ID) != region.ID {
			continue
		}
		if into, ok := s.regions[intoID]; ok {
			finished := into.Clone()
			finished.State = regionpkg.StateActive
			if err := s.saveLocked(finished); err != nil {
				return err
			}
		}
		if err := s.meta.deleteMerge(intoID); err != nil {
			return fmt.Errorf("clear pending merge: %w", err)
		}
		delete(s.merges, intoID)
		s.logger.Info("region merge finished",
			zap.Uint64("region_id", uint64(intoID)),
			zap.Uint64("from_region_id", uint64(region.ID)))
	}
	return nil
}

func (s *Store) handleRaftMessage(m message.RaftMessage) {
	if !m.IsTombstone {
		s.logger.Debug("ignoring raft message", zap.Stringer("msg", m))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fields := []zap.Field{zap.Uint64("region_id", uint64(m.RegionID)), zap.Uint64("peer_id", m.ToPeer.ID)}
	region, err := s.liveRegionLocked(m.RegionID)
	if err != nil {
		s.logger.Debug("tombstone for unknown region", append(fields, zap.Error(err))...)
		return
	}
	target, ok := region.FindPeer(m.ToPeer.ID)
	if !ok || target.StoreID != s.cfg.StoreID {
		s.logger.Warn("tombstone addressed to another peer", fields...)
		return
	}
	if regionpkg.IsEpochStale(m.RegionEpoch, region.Epoch) {
		s.logger.Info("ignoring stale tombstone",
			append(fields, zap.Stringer("msg_epoch", m.RegionEpoch), zap.Stringer("local_epoch", region.Epoch))...)
		return
	}
	next := region.Clone()
	next.State = regionpkg.StateTombstone
	next.Leader = 0
	if err := s.saveLocked(next); err != nil {
		s.logger.Error("persist tombstone failed", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Info("peer destroyed", fields...)
	s.dropPendingMergeLocked(next.ID)
	s.cleanupRegionDataLocked(next)
}

// dropPendingMergeLocked forgets the merge a destroyed region was absorbing.
// A tombstone never returns to service, so a later rollback has nothing to
// restore.
func (s *Store) dropPendingMergeLocked(intoID regionpkg.ID) {
	pm, ok := s.merges[intoID]
	if !ok {
		return
	}
	if err := s.meta.deleteMerge(intoID); err != nil {
		s.logger.Error("clear pending merge failed", zap.Uint64("region_id", uint64(intoID)), zap.Error(err))
	}
	delete(s.merges, intoID)
	s.logger.Info("pending merge dropped with destroyed region",
		zap.Uint64("region_id", uint64(intoID)),
		zap.Uint64("from_region_id", pm.From.ID))
}

// cleanupRegionDataLocked drops the region's data and queues compaction of
// the freed ranges.
func (s *Store) cleanupRegionDataLocked(region regionpkg.Region) {
	var start, end []byte
	if len(region.Range.Start) > 0 {
		start = region.Range.Start
	}
	if len(region.Range.End) > 0 {
		end = region.Range.End
	}
	for _, cf := range keys.DataCFs {
		lo, hi, err := keys.CFRange(cf, start, end)
		if err != nil {
			continue
		}
		if err := s.db.DeleteRange(lo, hi, pebble.Sync); err != nil {
			s.logger.Error("delete region data failed",
				zap.Uint64("region_id", uint64(region.ID)), zap.String("cf", cf), zap.Error(err))
			continue
		}
		task := worker.CompactTask{CF: cf, StartKey: start, EndKey: end}
		if err := s.compactTasks.Schedule(task); err != nil {
			s.logger.Warn("schedule compaction failed", zap.Stringer("task", task), zap.Error(err))
		}
	}
}

func (s *Store) rollbackMerge(intoID regionpkg.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pm, ok := s.merges[intoID]
	if !ok {
		s.logger.Warn("rollback for region without pending merge", zap.Uint64("region_id", uint64(intoID)))
		return
	}
	into, ok := s.regions[intoID]
	if !ok {
		delete(s.merges, intoID)
		return
	}
	if into.State == regionpkg.StateTombstone {
		s.logger.Info("ignoring merge rollback for destroyed region", zap.Uint64("region_id", uint64(intoID)))
		s.dropPendingMergeLocked(intoID)
		return
	}
	before := pm.Before.toRegion()
	next := into.Clone()
	next.Range = before.Range
	next.State = regionpkg.StateActive
	if err := s.saveLocked(next); err != nil {
		s.logger.Error("persist merge rollback failed", zap.Uint64("region_id", uint64(intoID)), zap.Error(err))
		return
	}
	if err := s.meta.deleteMerge(intoID); err != nil {
		s.logger.Error("clear pending merge failed", zap.Uint64("region_id", uint64(intoID)), zap.Error(err))
	}
	delete(s.merges, intoID)
	s.logger.Info("region merge rolled back",
		zap.Uint64("region_id", uint64(intoID)),
		zap.Uint64("from_region_id", pm.From.ID),
		zap.Stringer("epoch", next.Epoch))
}
