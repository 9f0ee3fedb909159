package pd

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	regionpkg "nyxstore/internal/region"
)

// Service is the placement driver backend. It answers the store-facing
// Client calls in-process and backs the PD gRPC server. Scheduling decisions
// are queued explicitly through AddOperator or derived from AskMerge.
type Service struct {
	mu          sync.RWMutex
	regions     map[regionpkg.ID]*regionpkg.Region
	tree        *regionTree
	leaders     map[regionpkg.ID]regionpkg.Peer
	downPeers   map[regionpkg.ID][]PeerStats
	stores      map[uint64]StoreStats
	operators   map[regionpkg.ID]Directive
	merges      map[regionpkg.ID]mergeGrant // keyed by source region
	mergedAway  map[regionpkg.ID]regionpkg.Region
	nextID      uint64
	regionStore regionMetadataStore
	logger      *zap.Logger
}

var _ Client = (*Service)(nil)

// mergeGrant records a merge handed out by AskMerge. IntoVersion is the
// target's version when the RegionMerge directive left PD: a target that
// later reports a newer version without covering the source rolled the merge
// back.
type mergeGrant struct {
	From        regionpkg.ID `json:"from"`
	Into        regionpkg.ID `json:"into"`
	IntoVersion uint64       `json:"into_version"`
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the logger used by the service.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a pure in-memory PD service.
func NewService(opts ...Option) *Service {
	svc := &Service{
		regions:    make(map[regionpkg.ID]*regionpkg.Region),
		tree:       newRegionTree(),
		leaders:    make(map[regionpkg.ID]regionpkg.Peer),
		downPeers:  make(map[regionpkg.ID][]PeerStats),
		stores:     make(map[uint64]StoreStats),
		operators:  make(map[regionpkg.ID]Directive),
		merges:     make(map[regionpkg.ID]mergeGrant),
		mergedAway: make(map[regionpkg.ID]regionpkg.Region),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// NewPersistentService persists region metadata, merge bookkeeping and the id
// allocator under dir so PD metadata survives restarts. Store statistics stay
// in memory.
func NewPersistentService(dir string, opts ...Option) (*Service, error) {
	regionStore, err := newBoltRegionStore(dir)
	if err != nil {
		return nil, fmt.Errorf("open pd region storage: %w", err)
	}
	svc := NewService(opts...)
	svc.regionStore = regionStore
	if err := svc.loadFromStore(); err != nil {
		_ = regionStore.Close()
		return nil, err
	}
	return svc, nil
}

func (s *Service) loadFromStore() error {
	next, err := s.regionStore.LoadNextID()
	if err != nil {
		return err
	}
	s.nextID = next
	if err := s.regionStore.ForEachMergedAway(func(region regionpkg.Region) error {
		s.mergedAway[region.ID] = region.Clone()
		return nil
	}); err != nil {
		return err
	}
	if err := s.regionStore.ForEachMerge(func(grant mergeGrant) error {
		s.merges[grant.From] = grant
		return nil
	}); err != nil {
		return err
	}
	var loaded []regionpkg.Region
	if err := s.regionStore.ForEach(func(region regionpkg.Region) error {
		loaded = append(loaded, region)
		return nil
	}); err != nil {
		return err
	}
	for _, region := range loaded {
		clone := region.Clone()
		s.regions[clone.ID] = &clone
		// A merged-away source waits for its shutdown outside the key tree.
		if _, gone := s.mergedAway[clone.ID]; !gone {
			s.tree.update(&clone)
		}
		if err := s.bumpIDLocked(clone); err != nil {
			return err
		}
	}
	// Operators live in memory only. A target still at its grant-time version
	// has not applied the merge and gets the directive again.
	for _, grant := range s.merges {
		from, fromOK := s.regions[grant.From]
		into, intoOK := s.regions[grant.Into]
		if !fromOK || !intoOK || into.Epoch.Version != grant.IntoVersion {
			continue
		}
		s.operators[grant.Into] = &RegionMerge{FromRegion: from.Clone()}
	}
	return nil
}

// Close releases persistent resources if present.
func (s *Service) Close() error {
	if s.regionStore != nil {
		return s.regionStore.Close()
	}
	return nil
}

// Bootstrap registers a region that PD has not seen before.
func (s *Service) Bootstrap(region regionpkg.Region) error {
	if region.ID == 0 {
		return fmt.Errorf("%w: region id is zero", ErrInvalidRegion)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.regions[region.ID]; exists {
		return fmt.Errorf("%w: %d", ErrRegionExists, region.ID)
	}
	clone := region.Clone()
	if err := s.putRegionLocked(&clone); err != nil {
		return err
	}
	if err := s.bumpIDLocked(clone); err != nil {
		return err
	}
	s.logger.Info("bootstrap region", zap.Stringer("region", clone))
	return nil
}

// AllocID returns a cluster-unique id for regions and peers.
func (s *Service) AllocID() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocIDLocked()
}

func (s *Service) allocIDLocked() (uint64, error) {
	s.nextID++
	if s.regionStore != nil {
		if err := s.regionStore.SaveNextID(s.nextID); err != nil {
			s.nextID--
			return 0, fmt.Errorf("persist id allocator: %w", err)
		}
	}
	return s.nextID, nil
}

func (s *Service) bumpIDLocked(region regionpkg.Region) error {
	highest := uint64(region.ID)
	for _, p := range region.Peers {
		if p.ID > highest {
			highest = p.ID
		}
	}
	if highest <= s.nextID {
		return nil
	}
	s.nextID = highest
	if s.regionStore != nil {
		return s.regionStore.SaveNextID(s.nextID)
	}
	return nil
}

// AddOperator queues a directive handed out on the region's next heartbeat.
// A queued operator replaces any previous one.
func (s *Service) AddOperator(id regionpkg.ID, d Directive) error {
	if d == nil {
		return fmt.Errorf("operator for region %d is nil", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regions[id]; !ok {
		return fmt.Errorf("%w: %d", ErrRegionNotFound, id)
	}
	s.operators[id] = d
	return nil
}

// AskSplit allocates ids for the right-hand side of a split.
func (s *Service) AskSplit(ctx context.Context, region regionpkg.Region) (AskSplitResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.checkRegionLocked(region); err != nil {
		return AskSplitResponse{}, err
	}
	newID, err := s.allocIDLocked()
	if err != nil {
		return AskSplitResponse{}, err
	}
	peerIDs := make([]uint64, 0, len(region.Peers))
	for range region.Peers {
		id, err := s.allocIDLocked()
		if err != nil {
			return AskSplitResponse{}, err
		}
		peerIDs = append(peerIDs, id)
	}
	return AskSplitResponse{NewRegionID: regionpkg.ID(newID), NewPeerIDs: peerIDs}, nil
}

// AskMerge grants a merge into the left neighbour, or the right one when the
// region starts the keyspace. The target receives a RegionMerge operator.
func (s *Service) AskMerge(ctx context.Context, region regionpkg.Region) (AskMergeResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	known, err := s.checkRegionLocked(region)
	if err != nil {
		return AskMergeResponse{}, err
	}
	if grant, ok := s.merges[known.ID]; ok {
		if into, ok := s.regions[grant.Into]; ok {
			clone := into.Clone()
			return AskMergeResponse{OK: true, IntoRegion: &clone}, nil
		}
	}
	into := s.tree.prev(known)
	if into == nil {
		into = s.tree.next(known)
	}
	if into == nil || s.busyLocked(into.ID) {
		return AskMergeResponse{OK: false}, nil
	}
	grant := mergeGrant{From: known.ID, Into: into.ID, IntoVersion: into.Epoch.Version}
	if s.regionStore != nil {
		if err := s.regionStore.PutMerge(grant); err != nil {
			return AskMergeResponse{}, fmt.Errorf("persist merge of region %d: %w", known.ID, err)
		}
	}
	s.operators[into.ID] = &RegionMerge{FromRegion: known.Clone()}
	s.merges[known.ID] = grant
	s.logger.Info("merge granted",
		zap.Uint64("region_id", uint64(known.ID)),
		zap.Uint64("into_region_id", uint64(into.ID)))
	clone := into.Clone()
	return AskMergeResponse{OK: true, IntoRegion: &clone}, nil
}

func (s *Service) busyLocked(id regionpkg.ID) bool {
	if _, ok := s.operators[id]; ok {
		return true
	}
	if _, ok := s.merges[id]; ok {
		return true
	}
	for _, grant := range s.merges {
		if grant.Into == id {
			return true
		}
	}
	return false
}

// RegionHeartbeat records the leader's view of the region and hands out the
// queued operator, if any.
func (s *Service) RegionHeartbeat(ctx context.Context, region regionpkg.Region, leader regionpkg.Peer, downPeers []PeerStats) (RegionHeartbeatResponse, error) {
	if region.ID == 0 {
		return RegionHeartbeatResponse{}, fmt.Errorf("%w: region id is zero", ErrInvalidRegion)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if gone, ok := s.mergedAway[region.ID]; ok {
		if _, live := s.regions[region.ID]; live {
			if err := s.deleteRegionLocked(region.ID); err != nil {
				return RegionHeartbeatResponse{}, err
			}
		}
		delete(s.operators, region.ID)
		return ResponseFor(&RegionShutdown{Region: gone.Clone()}), nil
	}

	if known, ok := s.regions[region.ID]; ok && regionpkg.IsEpochStale(region.Epoch, known.Epoch) {
		return RegionHeartbeatResponse{}, fmt.Errorf("%w: region %d reported %s, pd has %s",
			ErrStaleRegion, region.ID, region.Epoch, known.Epoch)
	}

	clone := region.Clone()
	clone.Leader = leader.ID
	if err := s.settleMergesLocked(&clone); err != nil {
		return RegionHeartbeatResponse{}, err
	}
	if err := s.putRegionLocked(&clone); err != nil {
		return RegionHeartbeatResponse{}, err
	}
	s.leaders[region.ID] = leader
	s.downPeers[region.ID] = append([]PeerStats(nil), downPeers...)

	d, ok := s.operators[region.ID]
	if !ok {
		return RegionHeartbeatResponse{}, nil
	}
	if merge, ok := d.(*RegionMerge); ok {
		if err := s.stampMergeLocked(merge.FromRegion.ID, clone.Epoch.Version); err != nil {
			return RegionHeartbeatResponse{}, err
		}
	}
	delete(s.operators, region.ID)
	return ResponseFor(d), nil
}

// settleMergesLocked resolves the merges granted into the heartbeating
// region. A target covering its source finishes the merge and the source is
// queued for shutdown. A target that moved past its grant-time version without
// covering the source rolled back, so the grant is dropped and the source may
// ask again.
func (s *Service) settleMergesLocked(into *regionpkg.Region) error {
	for fromID, grant := range s.merges {
		if grant.Into != into.ID {
			continue
		}
		from, ok := s.regions[fromID]
		switch {
		case ok && covers(into.Range, from.Range):
			gone := from.Clone()
			if s.regionStore != nil {
				if err := s.regionStore.PutMergedAway(gone); err != nil {
					return fmt.Errorf("persist merged region %d: %w", fromID, err)
				}
			}
			if err := s.dropMergeLocked(fromID); err != nil {
				return err
			}
			s.mergedAway[fromID] = gone
			s.operators[fromID] = &RegionShutdown{Region: gone.Clone()}
			s.logger.Info("merge finished, shutting down source region",
				zap.Uint64("region_id", uint64(fromID)),
				zap.Uint64("into_region_id", uint64(into.ID)))
		case into.Epoch.Version > grant.IntoVersion && !s.mergeQueuedLocked(into.ID, fromID):
			if err := s.dropMergeLocked(fromID); err != nil {
				return err
			}
			s.logger.Info("merge abandoned by target",
				zap.Uint64("region_id", uint64(fromID)),
				zap.Uint64("into_region_id", uint64(into.ID)),
				zap.Uint64("grant_version", grant.IntoVersion),
				zap.Stringer("epoch", into.Epoch))
		}
	}
	return nil
}

func (s *Service) mergeQueuedLocked(into, from regionpkg.ID) bool {
	op, ok := s.operators[into].(*RegionMerge)
	return ok && op.FromRegion.ID == from
}

// stampMergeLocked records the target version a RegionMerge directive is
// delivered at.
func (s *Service) stampMergeLocked(from regionpkg.ID, version uint64) error {
	grant, ok := s.merges[from]
	if !ok || grant.IntoVersion == version {
		return nil
	}
	grant.IntoVersion = version
	if s.regionStore != nil {
		if err := s.regionStore.PutMerge(grant); err != nil {
			return fmt.Errorf("persist merge of region %d: %w", from, err)
		}
	}
	s.merges[from] = grant
	return nil
}

func (s *Service) dropMergeLocked(from regionpkg.ID) error {
	if s.regionStore != nil {
		if err := s.regionStore.DeleteMerge(from); err != nil {
			return fmt.Errorf("clear merge of region %d: %w", from, err)
		}
	}
	delete(s.merges, from)
	return nil
}

func covers(outer, inner regionpkg.KeyRange) bool {
	if bytes.Compare(outer.Start, inner.Start) > 0 {
		return false
	}
	if len(outer.End) == 0 {
		return true
	}
	if len(inner.End) == 0 {
		return false
	}
	return bytes.Compare(outer.End, inner.End) >= 0
}

// StoreHeartbeat stores the latest statistics of a store.
func (s *Service) StoreHeartbeat(ctx context.Context, stats StoreStats) error {
	if stats.StoreID == 0 {
		return fmt.Errorf("store id is zero")
	}
	s.mu.Lock()
	s.stores[stats.StoreID] = stats
	s.mu.Unlock()
	return nil
}

// ReportSplit records both halves of a finished split.
func (s *Service) ReportSplit(ctx context.Context, left, right regionpkg.Region) error {
	if left.ID == 0 || right.ID == 0 {
		return fmt.Errorf("%w: split report with zero region id", ErrInvalidRegion)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range []regionpkg.Region{left, right} {
		if known, ok := s.regions[r.ID]; ok && regionpkg.IsEpochStale(r.Epoch, known.Epoch) {
			return fmt.Errorf("%w: region %d reported %s, pd has %s", ErrStaleRegion, r.ID, r.Epoch, known.Epoch)
		}
	}
	for _, r := range []regionpkg.Region{left, right} {
		clone := r.Clone()
		if err := s.putRegionLocked(&clone); err != nil {
			return err
		}
		if err := s.bumpIDLocked(clone); err != nil {
			return err
		}
	}
	s.logger.Info("region split reported",
		zap.Uint64("left_region_id", uint64(left.ID)),
		zap.Uint64("right_region_id", uint64(right.ID)))
	return nil
}

// GetRegionByID returns PD's copy of the region or nil.
func (s *Service) GetRegionByID(ctx context.Context, id regionpkg.ID) (*regionpkg.Region, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	region, ok := s.regions[id]
	if !ok {
		return nil, nil
	}
	clone := region.Clone()
	return &clone, nil
}

// Region returns PD's copy of the region.
func (s *Service) Region(id regionpkg.ID) (regionpkg.Region, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	region, ok := s.regions[id]
	if !ok {
		return regionpkg.Region{}, false
	}
	return region.Clone(), true
}

// RegionByKey returns the region covering key.
func (s *Service) RegionByKey(key []byte) (regionpkg.Region, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	region := s.tree.search(key)
	if region == nil {
		return regionpkg.Region{}, false
	}
	return region.Clone(), true
}

// Regions returns all known regions ordered by id.
func (s *Service) Regions() []regionpkg.Region {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]regionpkg.Region, 0, len(s.regions))
	for _, r := range s.regions {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Store returns the last statistics reported by a store.
func (s *Service) Store(id uint64) (StoreStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats, ok := s.stores[id]
	return stats, ok
}

// Leader returns the last leader that heartbeated for the region.
func (s *Service) Leader(id regionpkg.ID) (regionpkg.Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.leaders[id]
	return p, ok
}

func (s *Service) checkRegionLocked(region regionpkg.Region) (*regionpkg.Region, error) {
	known, ok := s.regions[region.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrRegionNotFound, region.ID)
	}
	if regionpkg.IsEpochStale(region.Epoch, known.Epoch) {
		return nil, fmt.Errorf("%w: region %d reported %s, pd has %s", ErrStaleRegion, region.ID, region.Epoch, known.Epoch)
	}
	return known, nil
}

func (s *Service) putRegionLocked(region *regionpkg.Region) error {
	if s.regionStore != nil {
		if err := s.regionStore.Put(*region); err != nil {
			return fmt.Errorf("persist region %d: %w", region.ID, err)
		}
	}
	if old, ok := s.regions[region.ID]; ok {
		s.tree.remove(old)
	}
	s.regions[region.ID] = region
	for _, displaced := range s.tree.update(region) {
		if displaced.ID == region.ID {
			continue
		}
		if _, ok := s.mergedAway[displaced.ID]; ok {
			continue
		}
		if err := s.deleteRegionLocked(displaced.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) deleteRegionLocked(id regionpkg.ID) error {
	if s.regionStore != nil {
		if err := s.regionStore.Delete(id); err != nil {
			return fmt.Errorf("delete region %d: %w", id, err)
		}
	}
	if old, ok := s.regions[id]; ok {
		s.tree.remove(old)
	}
	delete(s.regions, id)
	delete(s.leaders, id)
	delete(s.downPeers, id)
	delete(s.operators, id)
	return nil
}
